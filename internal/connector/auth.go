// Copyright 2025 Shan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"fmt"
	"net/http"

	"github.com/szqshan/apiconnect/internal/config"
)

// ApplyAuth attaches resolved credentials to an outgoing request.
// Query-located API keys are appended to the URL's query string;
// everything else goes into headers. Credential values never appear in
// errors returned from here.
func ApplyAuth(req *http.Request, auth *config.ResolvedAuth) error {
	if auth == nil || auth.Type == "" || auth.Type == config.AuthNone {
		return nil
	}

	switch auth.Type {
	case config.AuthAPIKey:
		if auth.Location == config.LocationQuery {
			query := req.URL.Query()
			query.Set(auth.Field, auth.Value)
			req.URL.RawQuery = query.Encode()
		} else {
			req.Header.Set(auth.Field, auth.Value)
		}

	case config.AuthBearer:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", auth.Token))

	case config.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)

	default:
		return &Error{
			Type:    ErrorTypeValidation,
			Message: fmt.Sprintf("unsupported auth type %q", auth.Type),
		}
	}

	return nil
}
