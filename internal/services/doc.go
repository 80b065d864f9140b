// Package services implements the business logic layer of the keywarden
// server. It provides a clean separation between HTTP handlers and the
// license core, ensuring that business rules are centralized and testable.
//
// # Architecture
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//	4. Domain-focused methods that encapsulate business rules
//
// # Service Layer Responsibilities
//
// The service layer is responsible for:
//
//	- Orchestrating the lifecycle manager and validation engine
//	- Cross-cutting concerns (logging, metrics, tracing)
//	- Event emission to the admin stream
//	- Report generation for exports
//
// Handlers never touch the store directly; every operation goes through a
// service.
//
// # Available Services
//
// The package provides these core services:
//
//	- LicenseService: license lifecycle, validation and exports
//	- HealthService: liveness, readiness and version reporting
//
// # Error Handling
//
// Services return domain-specific errors that handlers transform into RFC
// 7807 problem responses:
//
//	- store.ErrNotFound for missing records
//	- license.ErrInvalidTier / license.ErrEmptyKey for bad input
//	- license.ErrKeygenExhausted when key generation cannot converge
//
// A failed validation check is a decision, not an error: it returns a
// ValidationResult with valid=false and a reason code.
//
// # Testing
//
// Services are tested against the in-memory store with a mocked event
// publisher:
//
//	hub := &MockEventPublisher{}
//	hub.On("Broadcast", mock.Anything, mock.Anything).Return()
//	svc := NewLicenseService(manager, validator, hub, nil, nil, logger)
package services
