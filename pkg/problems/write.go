package problems

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Document is the application/problem+json body.
type Document struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// From converts err into a problem document. Unclassified errors never leak
// their message.
func From(err error) Document {
	kind := KindOf(err)
	doc := Document{Type: Type(kind.Slug()), Title: kind.Title(), Status: kind.Status()}
	if kind == KindInternal {
		return doc
	}
	var pe *Error
	if errors.As(err, &pe) {
		doc.Detail = pe.Detail
	}
	return doc
}

// Write renders err. instance is typically the request path.
func Write(w http.ResponseWriter, err error, instance string) {
	doc := From(err)
	doc.Instance = instance
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(doc.Status)
	_ = json.NewEncoder(w).Encode(doc)
}
