package canon

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
)

// checkDuplicateKeys walks data as a stream of JSON tokens and fails if any
// object, at any nesting depth, repeats a key. encoding/json's own decoder
// accepts duplicate keys and keeps the last one, which would let a peer
// smuggle two conflicting values for the same field past signature
// verification depending on which one a given decoder implementation
// happened to keep.
func checkDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	_, err := walkForDuplicates(dec)
	if err != nil {
		return err
	}
	return nil
}

// walkForDuplicates consumes exactly one JSON value from dec and returns
// once that value is fully read.
func walkForDuplicates(dec *json.Decoder) (json.Token, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("unexpected end of document")
		}
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			seen := make(map[string]struct{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, errors.Newf("object key is not a string: %v", keyTok)
				}
				if _, dup := seen[key]; dup {
					return nil, errors.Newf("duplicate key %q", key)
				}
				seen[key] = struct{}{}
				if _, err := walkForDuplicates(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil { // consume closing '}'
				return nil, err
			}
			return t, nil
		case '[':
			for dec.More() {
				if _, err := walkForDuplicates(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil { // consume closing ']'
				return nil, err
			}
			return t, nil
		default:
			return t, nil
		}
	default:
		return tok, nil
	}
}
