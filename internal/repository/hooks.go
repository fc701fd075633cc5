// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Hooks instruments every statement with its wall time at debug level.
type Hooks struct{}

type ctxKey string

const beginKey ctxKey = "begin"

func (h *Hooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		cclog.Debugf("SQL query: %s (took %s)", query, time.Since(begin))
	}
	return ctx, nil
}
