package server

import (
	"net/http"
	"strings"
)

// ServiceHTTP defines the minimal surface the router needs from the
// operations layer to serve HTTP requests.
type ServiceHTTP interface {
	ServeResolve(w http.ResponseWriter, r *http.Request, appID, version string)
	ServeList(http.ResponseWriter, *http.Request)
	ServeCreate(http.ResponseWriter, *http.Request)
	ServeReplace(w http.ResponseWriter, r *http.Request, appID, version string)
	ServeDelete(w http.ResponseWriter, r *http.Request, appID, version string)
	ServeCompose(http.ResponseWriter, *http.Request)
	ServeFromTemplate(http.ResponseWriter, *http.Request)
	ServeTestConditions(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(w http.ResponseWriter, status int, message string)
}

// NewServiceHandler wires URL dispatch to the operations layer so the
// lifecycle server owns routing without embedding request semantics.
func NewServiceHandler(svc ServiceHTTP) http.Handler {
	if svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path)
		switch {
		case len(parts) == 1 && parts[0] == "config":
			switch r.Method {
			case http.MethodGet:
				svc.ServeList(w, r)
			case http.MethodPost:
				svc.ServeCreate(w, r)
			default:
				svc.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			}

		case len(parts) == 3 && parts[0] == "config":
			appID, version := parts[1], parts[2]
			switch r.Method {
			case http.MethodGet:
				svc.ServeResolve(w, r, appID, version)
			case http.MethodPut:
				svc.ServeReplace(w, r, appID, version)
			case http.MethodDelete:
				svc.ServeDelete(w, r, appID, version)
			default:
				svc.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			}

		case len(parts) == 2 && parts[0] == "rules":
			if r.Method != http.MethodPost {
				svc.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			switch parts[1] {
			case "compose":
				svc.ServeCompose(w, r)
			case "from-template":
				svc.ServeFromTemplate(w, r)
			case "test-conditions":
				svc.ServeTestConditions(w, r)
			default:
				svc.WriteError(w, http.StatusNotFound, "not found")
			}

		case len(parts) == 1 && (parts[0] == "health" || parts[0] == "healthz"):
			if r.Method != http.MethodGet {
				svc.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			svc.ServeHealth(w, r)

		default:
			svc.WriteError(w, http.StatusNotFound, "not found")
		}
	})
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
