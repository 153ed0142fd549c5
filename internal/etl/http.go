package etl

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
	"github.com/BartekS5/ack/pkg/models"
)

type HTTPOptions struct {
	URL     string            `mapstructure:"url" validate:"required,url"`
	Method  string            `mapstructure:"method" validate:"omitempty,oneof=GET POST"`
	Headers map[string]string `mapstructure:"headers"`
	Params  map[string]string `mapstructure:"params"`
	Body    string            `mapstructure:"body"`
	Token   string            `mapstructure:"token"`
	// DataPath selects the records in each page (gjson syntax); empty means
	// the whole body.
	DataPath string `mapstructure:"data_path"`
	// NextPath selects the absolute URL of the next page; empty disables
	// paging.
	NextPath string        `mapstructure:"next_path"`
	MaxPages int           `mapstructure:"max_pages" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries" validate:"gte=0,lte=10"`
}

// HTTPReader pages through a JSON REST endpoint. Transport errors, 429 and
// 5xx responses are retried by the client before they surface as a
// SourceError.
type HTTPReader struct {
	name   string
	client *resty.Client
	opts   HTTPOptions
}

func newHTTPReader(_ context.Context, name string, o *HTTPOptions, _ Deps) (Reader, error) {
	return NewHTTPReader(name, *o), nil
}

func NewHTTPReader(name string, o HTTPOptions) *HTTPReader {
	if o.Method == "" {
		o.Method = "GET"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(o.Timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(o.Headers).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if o.Token != "" {
		client.SetAuthToken(o.Token)
	}
	client.AddRetryCondition(retryCondition)
	return &HTTPReader{name: name, client: client, opts: o}
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

func (r *HTTPReader) Type() string { return "http" }

func (r *HTTPReader) Produce(ctx context.Context) iter.Seq2[models.Mapping, error] {
	return func(yield func(models.Mapping, error) bool) {
		url := r.opts.URL
		for page := 1; url != ""; page++ {
			body, err := r.fetch(ctx, url, page == 1)
			if err != nil {
				yield(nil, r.fail(err))
				return
			}
			if !gjson.ValidBytes(body) {
				yield(nil, r.fail(fmt.Errorf("page %d: response is not valid JSON", page)))
				return
			}
			res := gjson.ParseBytes(body)
			if r.opts.DataPath != "" {
				res = res.Get(r.opts.DataPath)
			}
			if !emitResults(res, r.fail, yield) {
				return
			}
			logger.Debug("fetched page", "source", r.name, "page", page)

			if r.opts.NextPath == "" || (r.opts.MaxPages > 0 && page >= r.opts.MaxPages) {
				return
			}
			next := gjson.GetBytes(body, r.opts.NextPath).String()
			if next == url {
				return
			}
			url = next
		}
	}
}

func (r *HTTPReader) fetch(ctx context.Context, url string, first bool) ([]byte, error) {
	req := r.client.R().SetContext(ctx)
	if first {
		req.SetQueryParams(r.opts.Params)
		if r.opts.Body != "" {
			req.SetHeader("Content-Type", "application/json").SetBody(r.opts.Body)
		}
	}
	resp, err := req.Execute(r.opts.Method, url)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request %s: status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

func (r *HTTPReader) fail(err error) error {
	return &etlerr.SourceError{Source: r.name, Err: err}
}
