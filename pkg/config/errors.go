package config

import "errors"

var (
	// ErrProviderNotFound is returned when a provider name is not registered.
	ErrProviderNotFound = errors.New("llm provider not found")

	// ErrProviderInvalid is returned when a provider configuration is
	// incomplete.
	ErrProviderInvalid = errors.New("llm provider configuration invalid")

	// ErrMissingDatabaseURL is returned when DATABASE_URL is unset.
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
)
