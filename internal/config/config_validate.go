// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// minJWTSecretLength is the minimum accepted secret length for HS256 signing.
const minJWTSecretLength = 32

// Validate checks the configuration for invalid or inconsistent values.
// Struct-tag rules are enforced with go-playground/validator; cross-field
// rules are checked by hand.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", e.Namespace(), e.Tag())
		}
		return err
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}

	if c.Storage.Backend == "badger" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the badger backend")
	}

	if c.Realtime.BatchInterval <= 0 {
		return fmt.Errorf("realtime.batch_interval must be positive")
	}
	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout (%s) must exceed realtime.ping_interval (%s)",
			c.Realtime.PongTimeout, c.Realtime.PingInterval)
	}
	if c.Realtime.RecheckInterval > time.Minute {
		return fmt.Errorf("realtime.recheck_interval must not exceed 60s, got %s",
			c.Realtime.RecheckInterval)
	}

	return nil
}

// asValidationErrors unwraps validator.ValidationErrors without importing
// errors in every caller.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if errs, ok := err.(validator.ValidationErrors); ok {
		*target = errs
		return true
	}
	return false
}
