package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/snapshot"
)

// maxFormMemory bounds multipart parsing of offline requests.
const maxFormMemory = 1 << 20

func (h *Handler) listAssets(ctx context.Context, _ *network.Outgoing) (Payload, error) {
	inv, err := h.snapshot.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Payload{
		"success": true,
		"offline": true,
		"activos": inv.Assets,
		"total":   len(inv.Assets),
	}, nil
}

func (h *Handler) registerQR(ctx context.Context, out *network.Outgoing) (Payload, error) {
	fields, err := requestFields(out)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(fields["codigo"])
	if code == "" {
		return Payload{"success": false, "offline": true, "message": "Código QR requerido"}, nil
	}

	asset := snapshot.Asset{
		"codigo":        code,
		"id":            h.newID(),
		"pendiente":     true,
		"registrado_en": h.now().UTC().Format(time.RFC3339),
	}
	_, err = h.snapshot.Update(ctx, func(inv *snapshot.Inventory) error {
		if _, found := inv.Find(code); found {
			return errDuplicate
		}
		inv.Assets = append(inv.Assets, asset)
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return Payload{"success": false, "offline": true, "message": "El activo ya está registrado"}, nil
	}
	if err != nil {
		return nil, err
	}
	return Payload{
		"success": true,
		"offline": true,
		"message": "Activo guardado sin conexión; se sincronizará al recuperar la red",
		"activo":  asset,
	}, nil
}

func (h *Handler) deleteAsset(ctx context.Context, out *network.Outgoing) (Payload, error) {
	fields, err := requestFields(out)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(fields["codigo"])
	if ref == "" {
		ref = strings.TrimSpace(fields["id"])
	}
	if ref == "" {
		return Payload{"success": false, "offline": true, "message": "Código o id requerido"}, nil
	}

	removed := 0
	if _, err := h.snapshot.Update(ctx, func(inv *snapshot.Inventory) error {
		removed = inv.Remove(ref)
		return nil
	}); err != nil {
		return nil, err
	}
	if removed == 0 {
		return Payload{"success": false, "offline": true, "message": "Activo no encontrado"}, nil
	}
	return Payload{"success": true, "offline": true, "eliminados": removed}, nil
}

func (h *Handler) deleteAll(ctx context.Context, _ *network.Outgoing) (Payload, error) {
	removed := 0
	if _, err := h.snapshot.Update(ctx, func(inv *snapshot.Inventory) error {
		removed = len(inv.Assets)
		inv.Assets = []snapshot.Asset{}
		return nil
	}); err != nil {
		return nil, err
	}
	return Payload{"success": true, "offline": true, "eliminados": removed}, nil
}

func (h *Handler) verifySession(_ context.Context, out *network.Outgoing) (Payload, error) {
	authenticated := out.Header.Get("Authorization") != ""
	if !authenticated && h.cfg.SessionCookie != "" {
		req := http.Request{Header: out.Header}
		if c, err := req.Cookie(h.cfg.SessionCookie); err == nil && c.Value != "" {
			authenticated = true
		}
	}
	return Payload{"success": authenticated, "authenticated": authenticated, "offline": true}, nil
}

var errDuplicate = errors.NewStd("asset already registered")

// requestFields flattens a JSON object, urlencoded or multipart body into
// string values. Only the first value of repeated form fields is kept.
func requestFields(out *network.Outgoing) (map[string]string, error) {
	fields := make(map[string]string)
	if len(bytes.TrimSpace(out.Body)) == 0 {
		return fields, nil
	}

	mediaType, params, _ := mime.ParseMediaType(out.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		form, err := multipart.NewReader(bytes.NewReader(out.Body), params["boundary"]).ReadForm(maxFormMemory)
		if err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		defer func() { _ = form.RemoveAll() }()
		for k, v := range form.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return fields, nil

	case mediaType == "application/x-www-form-urlencoded":
		return formFields(out.Body)

	default:
		// Pages post JSON without always setting the content type.
		var obj map[string]any
		dec := json.NewDecoder(bytes.NewReader(out.Body))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			if mediaType == "application/json" {
				return nil, fmt.Errorf("invalid JSON body: %w", err)
			}
			return formFields(out.Body)
		}
		for k, v := range obj {
			switch value := v.(type) {
			case nil:
			case string:
				fields[k] = value
			default:
				fields[k] = fmt.Sprint(value)
			}
		}
		return fields, nil
	}
}

func formFields(body []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields, nil
}
