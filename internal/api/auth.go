// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// secured wraps mutating handlers with a bearer-token check. The host
// normally fronts the server with its own authentication; the check is
// a second line for deployments that expose the port directly, and is
// disabled when no secret is configured.
func (api *RestApi) secured(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if api.APISecret == "" {
			next(rw, r)
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			handleError(errors.New("missing bearer token"), http.StatusUnauthorized, rw)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(api.APISecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			handleError(errors.New("invalid bearer token"), http.StatusUnauthorized, rw)
			return
		}
		next(rw, r)
	}
}
