// Copyright 2016-2019 DutchSec (https://dutchsec.com/)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package elasticsearch

import (
	"context"
	"net/http"
	"time"
)

// MaxRetries bounds the attempts for one request.
const MaxRetries = 3

// Retrier retries failed requests with a linear backoff, giving up after
// MaxRetries or when the context is done.
type Retrier struct {
	Backoff time.Duration
}

func (r Retrier) Retry(ctx context.Context, retry int, req *http.Request, resp *http.Response, err error) (time.Duration, bool, error) {
	if ctx.Err() != nil {
		return 0, false, ctx.Err()
	}

	if retry >= MaxRetries {
		return 0, false, nil
	}

	backoff := r.Backoff
	if backoff == 0 {
		backoff = time.Second
	}

	log.Warningf("Error connecting to Elasticsearch, retry %d: %v", retry, err)
	return time.Duration(retry) * backoff, true, nil
}
