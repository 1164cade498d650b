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
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	elastic "gopkg.in/olivere/elastic.v5"
)

var (
	// ErrElasticsearchNoURL will be returned if no url has been set in configuration
	ErrElasticsearchNoURL = errors.New("Elasticsearch url has not been set")
	// ErrElasticsearchNoIndex will be returned if the url has no path naming the index
	ErrElasticsearchNoIndex = errors.New("Elasticsearch index has not been set")
)

// Config configures the cluster and index events are stored in. The index
// is the path of the url, e.g. http://localhost:9200/bannertrap.
type Config struct {
	URL                string `toml:"url"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	InsecureSkipVerify bool   `toml:"insecure"`
	Sniff              bool   `toml:"sniff"`
	Type               string `toml:"document-type"`
	QueueSize          int    `toml:"queue-size"`
}

// options validates the configuration and returns the client options and
// the index name.
func (c Config) options() ([]elastic.ClientOptionFunc, string, error) {
	if c.URL == "" {
		return nil, "", ErrElasticsearchNoURL
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, "", err
	}

	index := strings.Trim(u.Path, "/")
	if index == "" || strings.Contains(index, "/") {
		return nil, "", ErrElasticsearchNoIndex
	}

	u.Path = ""

	log.Debugf("Using URL: %s with index: %s", u.String(), index)

	options := []elastic.ClientOptionFunc{
		elastic.SetURL(u.String()),
		elastic.SetScheme(u.Scheme),
		elastic.SetSniff(c.Sniff),
		elastic.SetHealthcheck(false),
		elastic.SetRetrier(&Retrier{}),
		elastic.SetHttpClient(&http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: c.InsecureSkipVerify,
				},
			},
			Timeout: 20 * time.Second,
		}),
	}

	if c.Username != "" {
		options = append(options, elastic.SetBasicAuth(c.Username, c.Password))
		log.Debugf("Using authentication with username: %s and password.", c.Username)
	}

	return options, index, nil
}
