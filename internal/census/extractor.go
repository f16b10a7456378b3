// Package census extracts county and state identities from the Census API.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/httpclient"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// Getter is the HTTP capability the extractor needs.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (httpclient.Response, error)
}

// Config points the extractor at a dataset endpoint, for example
// https://api.census.gov/data/2020/dec/pl.
type Config struct {
	BaseURL string
	APIKey  string
}

// State is one row of the state listing.
type State struct {
	Name         string
	Code         string
	Abbreviation string
}

// Extractor queries the Census API.
type Extractor struct {
	client Getter
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(client Getter, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("census base url is required")
	}
	return &Extractor{client: client, cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// FetchCounties lists the counties of a state. Rows that do not match the
// header arity or carry bad codes are skipped with a warning.
func (e *Extractor) FetchCounties(ctx context.Context, stateCode string) ([]model.CountyIdentity, error) {
	state, err := model.PadCode(stateCode, model.StateCodeWidth)
	if err != nil {
		return nil, fmt.Errorf("fetch counties: %w", err)
	}
	rows, err := e.query(ctx, url.Values{
		"get": {"NAME"},
		"for": {"county:*"},
		"in":  {"state:" + state},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch counties for state %s: %w", state, err)
	}
	cols, err := columnIndex(rows[0], "NAME", "state", "county")
	if err != nil {
		return nil, fmt.Errorf("fetch counties for state %s: %w", state, err)
	}

	counties := make([]model.CountyIdentity, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			e.logger.Warn("skipping census row with unexpected arity",
				zap.Int("row", i+1),
				zap.Int("want", len(rows[0])),
				zap.Int("got", len(row)),
			)
			continue
		}
		county, err := model.NewCountyIdentity(cleanName(row[cols[0]]), row[cols[1]], row[cols[2]])
		if err != nil {
			e.logger.Warn("skipping census row with invalid codes", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		counties = append(counties, county)
	}
	e.logger.Info("fetched counties", zap.String("state", state), zap.Int("count", len(counties)))
	return counties, nil
}

// FetchStates lists every state in the dataset with its abbreviation.
func (e *Extractor) FetchStates(ctx context.Context) ([]State, error) {
	rows, err := e.query(ctx, url.Values{"get": {"NAME"}, "for": {"state:*"}})
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}
	cols, err := columnIndex(rows[0], "NAME", "state")
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}
	states := make([]State, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			e.logger.Warn("skipping census row with unexpected arity", zap.Int("row", i+1))
			continue
		}
		code, err := model.PadCode(row[cols[1]], model.StateCodeWidth)
		if err != nil {
			e.logger.Warn("skipping census row with invalid state code", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		states = append(states, State{
			Name:         strings.TrimSpace(row[cols[0]]),
			Code:         code,
			Abbreviation: Abbreviation(code),
		})
	}
	return states, nil
}

// CountyCodes returns the set of full county codes, for referential checks.
func CountyCodes(counties []model.CountyIdentity) map[string]struct{} {
	out := make(map[string]struct{}, len(counties))
	for _, c := range counties {
		out[c.FullCode()] = struct{}{}
	}
	return out
}

func (e *Extractor) query(ctx context.Context, params url.Values) ([][]string, error) {
	if e.cfg.APIKey != "" {
		params.Set("key", e.cfg.APIKey)
	}
	resp, err := e.client.Get(ctx, e.cfg.BaseURL, params)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("parse census response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse census response: missing header row")
	}
	return rows, nil
}

func columnIndex(header []string, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		out[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				out[i] = j
				break
			}
		}
		if out[i] < 0 {
			return nil, fmt.Errorf("census header %v has no %q column", header, name)
		}
	}
	return out, nil
}

// cleanName drops the ", <State Name>" suffix of a county name.
func cleanName(raw string) string {
	name, _, _ := strings.Cut(raw, ",")
	return strings.TrimSpace(name)
}
