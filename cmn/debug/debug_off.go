//go:build !debug

// Package debug provides build-tag gated assertions. Compiled out entirely
// unless the binary is built with `-tags debug`, so release builds pay
// nothing for the checks sprinkled through the hot paths of transport,
// router, and filter.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func ON() bool { return false }

func Func(_ func()) {}

func Assert(_ bool, _ ...any)            {}
func AssertFunc(_ func() bool, _ ...any) {}
func AssertNoErr(_ error)                {}
func Assertf(_ bool, _ string, _ ...any) {}
