package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
)

// maxBodyBytes bounds request bodies; every body the API accepts is tiny.
const maxBodyBytes = 1 << 16

// writeErr answers with the error envelope. Errors without a code are
// reported as internal without their text.
func writeErr(w http.ResponseWriter, err error) {
	utils.WriteErr(w, err)
}

// decodeOptionalJSON decodes r's body into v. An empty body leaves v as is.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.BadRequest("Invalid request body")
	}
	return nil
}
