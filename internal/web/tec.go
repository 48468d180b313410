package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tecctl/internal/tec"
)

// CommandResponse is the reply to a TEC command.
type CommandResponse struct {
	Response string           `json:"response"`
	Status   InstanceSnapshot `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// tecHandler serves GET and POST on /api/tec/{name}.
func tecHandler(status *Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tec/"), "/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			snap, ok := status.instance(name)
			if !ok {
				http.Error(w, fmt.Sprintf("unknown tec %q", name), http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		case http.MethodPost:
			ctrl, ok := status.Lookup(name)
			if !ok {
				http.Error(w, fmt.Sprintf("unknown tec %q", name), http.StatusNotFound)
				return
			}
			cmd, err := parseCommand(w, r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp, err := ctrl.Apply(cmd)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			snap, _ := status.instance(name)
			writeJSON(w, http.StatusOK, CommandResponse{Response: resp, Status: snap})
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

type commandBody struct {
	Target *float64 `json:"TARGET"`
	Enable *int     `json:"ENABLE"`
}

const maxCommandBody = 4 << 10

// parseCommand reads TARGET and ENABLE from a JSON body or from the
// query/form. Parameter names are case-insensitive.
func parseCommand(w http.ResponseWriter, r *http.Request) (tec.Command, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body commandBody
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			return tec.Command{}, fmt.Errorf("invalid json: %w", err)
		}
		return tec.Command{Target: body.Target, Enable: body.Enable}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)
	if err := r.ParseForm(); err != nil {
		return tec.Command{}, fmt.Errorf("invalid form: %w", err)
	}
	var cmd tec.Command
	if s, ok := formValue(r.Form, "TARGET"); ok {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return tec.Command{}, errors.New("TARGET must be a number")
		}
		cmd.Target = &v
	}
	if s, ok := formValue(r.Form, "ENABLE"); ok {
		v, err := strconv.Atoi(s)
		if err != nil {
			return tec.Command{}, tec.ErrInvalidEnable
		}
		cmd.Enable = &v
	}
	return cmd, nil
}

func formValue(form url.Values, key string) (string, bool) {
	for k, vs := range form {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return strings.TrimSpace(vs[0]), true
		}
	}
	return "", false
}
