// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"claims-review-service/internal/payments"
)

// Env holds the configuration values for the application.
type Env struct {
	Region        string
	TasksTable    string
	ChangesTable  string
	UploadsTable  string
	UploadsBucket string

	// AllowDuplicateUploads skips the upload-log lookup during ingestion.
	AllowDuplicateUploads bool
	// StrictTransitions enforces the state edge table; off preserves the
	// permissive legacy behavior of recording any from/to pair.
	StrictTransitions bool
	DevBypassAuth     bool

	PaymentAPIBase    string
	PaymentAPIKey     string
	PaymentAPITimeout time.Duration
	PhoneRules        payments.PhoneRules
}

// MustLoad reads the environment variables and returns an Env struct.
func MustLoad() Env {
	timeoutSec, _ := strconv.Atoi(get("PAYMENT_API_TIMEOUT_SECONDS", "30"))
	e := Env{
		Region:                get("AWS_REGION", "us-east-1"),
		TasksTable:            must("TASKS_TABLE"),
		ChangesTable:          must("CHANGES_TABLE"),
		UploadsTable:          must("UPLOADS_TABLE"),
		UploadsBucket:         get("UPLOADS_BUCKET", ""),
		AllowDuplicateUploads: get("ALLOW_DUPLICATE_UPLOADS", "") == "true",
		StrictTransitions:     get("STRICT_TRANSITIONS", "true") == "true",
		DevBypassAuth:         get("DEV_BYPASS_AUTH", "") == "true",
		PaymentAPIBase:        get("PAYMENT_API_BASE_URL", ""),
		PaymentAPIKey:         get("PAYMENT_API_KEY", ""),
		PaymentAPITimeout:     time.Duration(timeoutSec) * time.Second,
		PhoneRules:            phoneRules(),
	}
	return e
}

// phoneRules reads the MSISDN canonicalization rules, falling back to the
// Kenyan defaults the source data uses.
func phoneRules() payments.PhoneRules {
	r := payments.DefaultPhoneRules()
	if v, err := strconv.Atoi(get("PHONE_LOCAL_DIGITS", "")); err == nil {
		r.LocalDigits = v
	}
	if v := get("PHONE_LOCAL_PREFIX", ""); v != "" {
		r.LocalPrefix = v
	}
	if v, err := strconv.Atoi(get("PHONE_FULL_DIGITS", "")); err == nil {
		r.FullDigits = v
	}
	if v := get("PHONE_FULL_PREFIX", ""); v != "" {
		r.FullPrefix = v
	}
	return r
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// must returns the value of the environment variable k or panics if not set.
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic(fmt.Errorf("missing env %s", k))
	}
	return v
}
