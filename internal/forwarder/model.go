package forwarder

import (
	jsoniter "github.com/json-iterator/go"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// rewriteModel rewrites the top-level "model" field of a JSON request body
// to upstreamModel, per C3/spec.md §4.3. Non-JSON or model-less bodies, and
// bodies whose model already equals upstreamModel, are returned unchanged.
// A rewritten body is decoded into a generic map and re-encoded with
// json-iterator/go, so its key order and whitespace are not preserved.
func rewriteModel(body []byte, upstreamModel string) ([]byte, error) {
	return rewriteJSONField(body, "model", upstreamModel)
}

// rewriteEffort rewrites the top-level "reasoning_effort" field when a
// session effort override is active, using the same cheap field-level
// technique as rewriteModel.
func rewriteEffort(body []byte, effort string) ([]byte, error) {
	return rewriteJSONField(body, "reasoning_effort", effort)
}

func rewriteJSONField(body []byte, field, value string) ([]byte, error) {
	if len(body) == 0 || value == "" {
		return body, nil
	}
	var generic map[string]interface{}
	if err := fastJSON.Unmarshal(body, &generic); err != nil {
		return body, nil
	}
	existing, ok := generic[field]
	if !ok {
		return body, nil
	}
	if s, isString := existing.(string); isString && s == value {
		return body, nil
	}
	generic[field] = value
	out, err := fastJSON.Marshal(generic)
	if err != nil {
		return body, nil
	}
	return out, nil
}
