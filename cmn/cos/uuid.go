// Package cos provides common low-level types and utilities for OpenFilter.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	tooLongID = 64

	mayOnlyContain = "may only contain letters, numbers, dashes (-), underscores (_)"
	OnlyNice       = "must be less than 64 characters and " + mayOnlyContain
)

// GenRunID returns a fresh run_id: a UUID, stable across every filter
// spawned by one multi-filter launcher invocation (spec S4/C6).
func GenRunID() string { return uuid.NewString() }

// GenFilterID derives a short, human-legible filter instance id from its
// kind, e.g. "Detector[a3f0]" (see spec's frame.meta.src format).
func GenFilterID(kind string) string {
	u := uuid.New()
	return fmt.Sprintf("%s[%s]", kind, u.String()[:4])
}

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsAlphaNice validates filter/topic ids: letters, digits, '-' and '_',
// never leading/trailing with a separator.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func ValidateFilterID(id string) error {
	if !IsAlphaNice(id) {
		return errors.New("filter id " + id + " is invalid: " + OnlyNice)
	}
	return nil
}
