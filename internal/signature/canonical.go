// Package signature implements the authenticity check for published blocks:
// a fixed canonical serialization of the block with its sig field removed,
// hashed with SHA-256 and verified as a secp256k1 ECDSA signature.
package signature

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/onpostt/relay/internal/dto"
)

// Canonical returns the byte string a block's signature is computed over.
//
// Field order is pinned so independently written clients and relays agree on
// the pre-hash bytes: id, pubkey, created_at, mode, content, app, query.
// Fields without a value are omitted. HTML escaping is disabled so the output
// matches a plain JSON stringification byte for byte; content is re-emitted
// exactly as received.
func Canonical(b *dto.Block) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if err := writeField(&buf, "id", b.ID); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "pubkey", b.Pubkey); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "created_at", b.CreatedAt); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "mode", b.Mode); err != nil {
		return nil, err
	}
	if b.HasContent() {
		if err := writeField(&buf, "content", b.Content); err != nil {
			return nil, err
		}
	}
	if b.App != "" {
		if err := writeField(&buf, "app", b.App); err != nil {
			return nil, err
		}
	}
	if b.Query != nil {
		if err := writeField(&buf, "query", b.Query); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, name string, value interface{}) error {
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	fmt.Fprintf(buf, "%q:", name)

	if raw, ok := value.(json.RawMessage); ok {
		buf.Write(bytes.TrimSpace(raw))
		return nil
	}

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return err
	}
	// Encode appends a newline the canonical form must not contain.
	buf.Truncate(buf.Len() - 1)
	return nil
}
