// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package testsupport

import (
	"context"
	"fmt"
)

// Translator is a no-op model.Translator that formats the key and args
// without consulting any locale table, sufficient for tests and the
// cmd/apptxctl demo where real localization is out of scope.
type Translator struct{}

// NewTranslator returns a Translator.
func NewTranslator() *Translator { return &Translator{} }

// Translate implements model.Translator.
func (t *Translator) Translate(ctx context.Context, locale, key string, args ...interface{}) string {
	if len(args) == 0 {
		return fmt.Sprintf("[%s] %s", locale, key)
	}
	return fmt.Sprintf("[%s] %s %v", locale, key, args)
}
