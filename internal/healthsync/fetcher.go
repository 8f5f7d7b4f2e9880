// Package healthsync runs the daily reconciliation cycle: token, fetch, per-domain upsert, summary.
package healthsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
)

// DefaultWeightPeriod is the weight log window requested on every cycle.
const DefaultWeightPeriod = "30d"

// Upstream is the subset of the Fitbit client the fetcher depends on.
type Upstream interface {
	Activity(ctx context.Context, accessToken, date string) (*fitbit.ActivityResponse, json.RawMessage, error)
	Sleep(ctx context.Context, accessToken, date string) (*fitbit.SleepResponse, json.RawMessage, error)
	HeartRate(ctx context.Context, accessToken, date string) (*fitbit.HeartRateResponse, json.RawMessage, error)
	WeightLogs(ctx context.Context, accessToken, date, period string) (*fitbit.WeightResponse, json.RawMessage, error)
	CardioScore(ctx context.Context, accessToken, date string) (*fitbit.CardioScoreResponse, json.RawMessage, error)
	SpO2(ctx context.Context, accessToken, date string) (*fitbit.SpO2Response, json.RawMessage, error)
}

// FetchResult holds whatever each domain returned for one date. A domain with an entry in
// Errors is unavailable for this cycle and its payload fields are nil.
type FetchResult struct {
	Date string

	Activity    *fitbit.ActivityResponse
	ActivityRaw json.RawMessage

	Sleep    *fitbit.SleepResponse
	SleepRaw json.RawMessage

	HeartRate    *fitbit.HeartRateResponse
	HeartRateRaw json.RawMessage

	Weight *fitbit.WeightResponse

	VO2Max    *fitbit.CardioScoreResponse
	VO2MaxRaw json.RawMessage

	SpO2    *fitbit.SpO2Response
	SpO2Raw json.RawMessage

	Errors map[domain.HealthDomain]error
}

// Available reports whether d was fetched successfully.
func (r FetchResult) Available(d domain.HealthDomain) bool {
	return r.Errors[d] == nil
}

// Fetcher issues the per-domain reads for a date concurrently.
type Fetcher struct {
	upstream     Upstream
	weightPeriod string
	logger       *log.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(upstream Upstream, weightPeriod string, logger *log.Logger) *Fetcher {
	if weightPeriod == "" {
		weightPeriod = DefaultWeightPeriod
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[fetch] ", log.LstdFlags|log.Lshortfile)
	}
	return &Fetcher{upstream: upstream, weightPeriod: weightPeriod, logger: logger}
}

// Fetch runs all six reads in parallel and waits for every one of them. A failing read only
// marks its own domain unavailable.
func (f *Fetcher) Fetch(ctx context.Context, accessToken, date string) FetchResult {
	res := FetchResult{Date: date, Errors: make(map[domain.HealthDomain]error)}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	run := func(d domain.HealthDomain, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				f.logger.Printf("%s unavailable for %s: %v", d, date, err)
				mu.Lock()
				res.Errors[d] = fmt.Errorf("%w: %s: %v", domain.ErrDomainUnavailable, d, err)
				mu.Unlock()
			}
		}()
	}

	run(domain.DomainActivity, func() (err error) {
		res.Activity, res.ActivityRaw, err = f.upstream.Activity(ctx, accessToken, date)
		return err
	})
	run(domain.DomainSleep, func() (err error) {
		res.Sleep, res.SleepRaw, err = f.upstream.Sleep(ctx, accessToken, date)
		return err
	})
	run(domain.DomainHeartRate, func() (err error) {
		res.HeartRate, res.HeartRateRaw, err = f.upstream.HeartRate(ctx, accessToken, date)
		return err
	})
	run(domain.DomainWeight, func() (err error) {
		res.Weight, _, err = f.upstream.WeightLogs(ctx, accessToken, date, f.weightPeriod)
		return err
	})
	run(domain.DomainVO2Max, func() (err error) {
		res.VO2Max, res.VO2MaxRaw, err = f.upstream.CardioScore(ctx, accessToken, date)
		return err
	})
	run(domain.DomainSpO2, func() (err error) {
		res.SpO2, res.SpO2Raw, err = f.upstream.SpO2(ctx, accessToken, date)
		return err
	})

	wg.Wait()
	return res
}
