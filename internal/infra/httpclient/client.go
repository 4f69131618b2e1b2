package httpclient

import (
	"time"

	"github.com/go-resty/resty/v2"
)

func New(timeout time.Duration, userAgent string) *resty.Client {
	client := resty.New().SetTimeout(timeout)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return client
}
