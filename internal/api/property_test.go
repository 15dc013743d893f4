package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func putDocument(h *RESTHandler, key string, value Document) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(value)
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPut, "/api/v1/kv/"+key, &buf),
		map[string]string{"key": key})
	rec := httptest.NewRecorder()
	h.SetKey(rec, req)
	return rec
}

func getDocument(h *RESTHandler, key string) (*httptest.ResponseRecorder, GetResponse) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/kv/"+key, nil),
		map[string]string{"key": key})
	rec := httptest.NewRecorder()
	h.GetKey(rec, req)
	var resp GetResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestRESTProperties(t *testing.T) {
	h := newTestHandler(t)

	properties := gopter.NewProperties(nil)

	// Property 1: PUT then GET returns the stored document
	properties.Property("PUT then GET round-trips", prop.ForAll(
		func(key string, name string, age int) bool {
			value := Document{"name": name, "age": float64(age)}
			if putDocument(h, key, value).Code != http.StatusOK {
				return false
			}
			rec, resp := getDocument(h, key)
			if rec.Code != http.StatusOK || !resp.Found {
				return false
			}
			return resp.Value["name"] == name && resp.Value["age"] == float64(age)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.IntRange(0, 120),
	))

	// Property 2: DELETE makes a subsequent GET report 404
	properties.Property("DELETE removes the key", prop.ForAll(
		func(key string, name string) bool {
			if putDocument(h, key, Document{"name": name}).Code != http.StatusOK {
				return false
			}

			req := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/api/v1/kv/"+key, nil),
				map[string]string{"key": key})
			rec := httptest.NewRecorder()
			h.DeleteKey(rec, req)
			if rec.Code != http.StatusOK {
				return false
			}

			getRec, resp := getDocument(h, key)
			return getRec.Code == http.StatusNotFound && !resp.Found
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	// Property 3: repeated PUTs keep the last value
	properties.Property("Last PUT wins", prop.ForAll(
		func(key string, values []string) bool {
			if len(values) == 0 {
				return true
			}
			for _, v := range values {
				if putDocument(h, key, Document{"v": v}).Code != http.StatusOK {
					return false
				}
			}
			_, resp := getDocument(h, key)
			return resp.Found && resp.Value["v"] == values[len(values)-1]
		},
		gen.Identifier(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
