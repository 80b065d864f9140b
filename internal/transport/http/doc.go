// Package http implements the HTTP transport for the keywarden license
// service. It is a thin layer between chi routing and the service layer,
// keeping handlers focused solely on HTTP concerns.
//
// # Architecture Principles
//
// Handlers in this package follow these principles:
//
//	1. Thin handlers - minimal logic, delegate to services
//	2. HTTP-only concerns - request parsing, response formatting
//	3. Error transformation - convert service errors to HTTP responses
//	4. No business logic - all logic belongs in the service layer
//	5. Consistent patterns - standardized request/response handling
//
// # Request Flow
//
// A typical request flows through these layers:
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Store
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// # Validation Decisions vs Errors
//
// A failed license check is a decision, not an error: POST /license/validate
// answers 200 with valid=false and a reason code. Error statuses are reserved
// for requests that could not be processed at all, and those follow RFC 7807:
//
//	{
//	    "type": "/errors/license/not-found",
//	    "title": "Not Found",
//	    "status": 404,
//	    "detail": "License key not found",
//	    "instance": "/api/v1/admin/licenses/renew"
//	}
//
// # Request Validation
//
// JSON bodies decode via render and validate via go-playground/validator
// struct tags on the contract types in pkg/contracts/api/v1. Validation
// failures respond 400 with the failing fields listed.
//
// # Testing
//
// Handlers are tested with httptest and a testify mock of the license
// service, verifying status codes, response bodies and error bodies.
package http
