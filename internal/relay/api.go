// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relay

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// APIBaseURL prefixes every operation in openapi.yaml.
const APIBaseURL = "/api/v1"

const maxAPIBody = 4 << 10

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger returns the validated API contract.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("relay: load openapi: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("relay: invalid openapi: %w", err)
	}
	return doc, nil
}

// GetEpisodeParams defines parameters for GetEpisode.
type GetEpisodeParams struct {
	Lang *string `form:"lang,omitempty" json:"lang,omitempty"`
	Tier *string `form:"tier,omitempty" json:"tier,omitempty"`
}

// RefreshEpisodeParams defines parameters for RefreshEpisode.
type RefreshEpisodeParams struct {
	Lang *string `form:"lang,omitempty" json:"lang,omitempty"`
	Tier *string `form:"tier,omitempty" json:"tier,omitempty"`
}

// PositionParams defines parameters shared by the position operations.
type PositionParams struct {
	Lang *string `form:"lang,omitempty" json:"lang,omitempty"`
}

// PositionUpdate is the PutPosition request body.
type PositionUpdate struct {
	PositionMS int64 `json:"position_ms"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Resolve an episode and its playback URL
	// (GET /api/v1/episodes/{code}/{ep})
	GetEpisode(w http.ResponseWriter, r *http.Request, code string, ep int, params GetEpisodeParams)
	// Re-fetch an episode descriptor bypassing the cache
	// (POST /api/v1/episodes/{code}/{ep}/refresh)
	RefreshEpisode(w http.ResponseWriter, r *http.Request, code string, ep int, params RefreshEpisodeParams)
	// (GET /api/v1/episodes/{code}/{ep}/position)
	GetPosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams)
	// (PUT /api/v1/episodes/{code}/{ep}/position)
	PutPosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams)
	// (DELETE /api/v1/episodes/{code}/{ep}/position)
	DeletePosition(w http.ResponseWriter, r *http.Request, code string, ep int, params PositionParams)
}

// MiddlewareFunc wraps a single operation handler.
type MiddlewareFunc func(http.Handler) http.Handler

// InvalidParamFormatError reports a parameter that could not be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ServerInterfaceWrapper binds request parameters and dispatches to the
// ServerInterface.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) episodePath(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	var code string
	err := runtime.BindStyledParameterWithOptions("simple", "code", chi.URLParam(r, "code"), &code,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "code", Err: err})
		return "", 0, false
	}
	var ep int
	err = runtime.BindStyledParameterWithOptions("simple", "ep", chi.URLParam(r, "ep"), &ep,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "ep", Err: err})
		return "", 0, false
	}
	return code, ep, true
}

func (siw *ServerInterfaceWrapper) bindQuery(w http.ResponseWriter, r *http.Request, name string, dest **string) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	var handler http.Handler = h
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// GetEpisode operation middleware
func (siw *ServerInterfaceWrapper) GetEpisode(w http.ResponseWriter, r *http.Request) {
	code, ep, ok := siw.episodePath(w, r)
	if !ok {
		return
	}
	var params GetEpisodeParams
	if !siw.bindQuery(w, r, "lang", &params.Lang) || !siw.bindQuery(w, r, "tier", &params.Tier) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetEpisode(w, r, code, ep, params)
	})
}

// RefreshEpisode operation middleware
func (siw *ServerInterfaceWrapper) RefreshEpisode(w http.ResponseWriter, r *http.Request) {
	code, ep, ok := siw.episodePath(w, r)
	if !ok {
		return
	}
	var params RefreshEpisodeParams
	if !siw.bindQuery(w, r, "lang", &params.Lang) || !siw.bindQuery(w, r, "tier", &params.Tier) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.RefreshEpisode(w, r, code, ep, params)
	})
}

func (siw *ServerInterfaceWrapper) position(w http.ResponseWriter, r *http.Request, call func(ServerInterface, http.ResponseWriter, *http.Request, string, int, PositionParams)) {
	code, ep, ok := siw.episodePath(w, r)
	if !ok {
		return
	}
	var params PositionParams
	if !siw.bindQuery(w, r, "lang", &params.Lang) {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		call(siw.Handler, w, r, code, ep, params)
	})
}

// GetPosition operation middleware
func (siw *ServerInterfaceWrapper) GetPosition(w http.ResponseWriter, r *http.Request) {
	siw.position(w, r, ServerInterface.GetPosition)
}

// PutPosition operation middleware
func (siw *ServerInterfaceWrapper) PutPosition(w http.ResponseWriter, r *http.Request) {
	siw.position(w, r, ServerInterface.PutPosition)
}

// DeletePosition operation middleware
func (siw *ServerInterfaceWrapper) DeletePosition(w http.ResponseWriter, r *http.Request) {
	siw.position(w, r, ServerInterface.DeletePosition)
}

// RouterOptions configures the API router.
type RouterOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// NewRouter registers every operation in openapi.yaml and tags the request
// span with its operation id.
func NewRouter(si ServerInterface, options RouterOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = defaultBindErrorHandler
	}

	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	register := func(method, path, opID string, handler http.HandlerFunc) {
		r.Method(method, options.BaseURL+path, withOperation(opID, handler))
	}

	register(http.MethodGet, "/episodes/{code}/{ep}", "GetEpisode", wrapper.GetEpisode)
	register(http.MethodPost, "/episodes/{code}/{ep}/refresh", "RefreshEpisode", wrapper.RefreshEpisode)
	register(http.MethodGet, "/episodes/{code}/{ep}/position", "GetPosition", wrapper.GetPosition)
	register(http.MethodPut, "/episodes/{code}/{ep}/position", "PutPosition", wrapper.PutPosition)
	register(http.MethodDelete, "/episodes/{code}/{ep}/position", "DeletePosition", wrapper.DeletePosition)

	return r
}

func withOperation(operationID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("api.operation", operationID))
		next.ServeHTTP(w, r)
	})
}

func defaultBindErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var pe *InvalidParamFormatError
	if errors.As(err, &pe) && pe.ParamName == "tier" {
		writeError(w, http.StatusBadRequest, "invalid_tier", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_key", err.Error())
}

// ValidateRequests checks API requests against the contract before they
// reach a handler. Requests the contract does not describe pass through.
func ValidateRequests(router routers.Router) func(http.Handler) http.Handler {
	opts := &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxAPIBody)
			}
			err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    opts,
			})
			if err != nil {
				code, detail := contractViolation(err)
				writeError(w, http.StatusBadRequest, code, detail)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// contractViolation maps a validation failure onto the API error codes.
func contractViolation(err error) (code, detail string) {
	var re *openapi3filter.RequestError
	if !errors.As(err, &re) {
		return "invalid_request", err.Error()
	}
	if re.Parameter != nil {
		if re.Parameter.Name == "tier" {
			return "invalid_tier", re.Error()
		}
		return "invalid_key", re.Error()
	}
	var se *openapi3.SchemaError
	if errors.As(re.Err, &se) && se.SchemaField == "minimum" {
		return "invalid_position", "position_ms must not be negative"
	}
	return "invalid_body", re.Error()
}

func newContractRouter(doc *openapi3.T) (routers.Router, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("relay: openapi router: %w", err)
	}
	return router, nil
}
