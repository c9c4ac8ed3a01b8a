package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// RegisterDefaults wires the built-in scripts for every known run type.
func RegisterDefaults(e *Chromedp) {
	timeout := e.cfg.NavigationTimeout
	e.Register(automation.RunTypeFindConnections, findConnectionsScript(timeout))
	e.Register(automation.RunTypeFindCompanyPeople, findCompanyPeopleScript(timeout))
	e.Register(automation.RunTypeSendConnectionRequest, sendConnectionRequestScript(timeout))
	e.Register(automation.RunTypeSendMessage, sendMessageScript(timeout))
	e.Register(automation.RunTypeDownloadConnections, downloadConnectionsScript(timeout))
}

const extractProfileCardsJS = `
Array.from(document.querySelectorAll('[data-view-name="search-entity-result"], .entity-result')).map(el => ({
  name: (el.querySelector('[aria-hidden="true"]')?.textContent || '').trim(),
  headline: (el.querySelector('.entity-result__primary-subtitle')?.textContent || '').trim(),
  profile_url: el.querySelector('a[href*="/in/"]')?.href || ''
})).filter(p => p.profile_url)
`

type profileCard struct {
	Name       string `json:"name"`
	Headline   string `json:"headline"`
	ProfileURL string `json:"profile_url"`
}

func findConnectionsScript(timeout time.Duration) Script {
	return func(ctx context.Context, run automation.Run) (automation.Outcome, error) {
		var payload automation.FindConnectionsPayload
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return automation.Outcome{}, fmt.Errorf("decode payload: %w", err)
		}
		return collectProfiles(ctx, payload.SearchURL, payload.MaxResults, "connection", timeout)
	}
}

func findCompanyPeopleScript(timeout time.Duration) Script {
	return func(ctx context.Context, run automation.Run) (automation.Outcome, error) {
		var payload automation.FindCompanyPeoplePayload
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return automation.Outcome{}, fmt.Errorf("decode payload: %w", err)
		}
		return collectProfiles(ctx, payload.CompanyURL+"/people/", payload.MaxResults, "company_person", timeout)
	}
}

func collectProfiles(ctx context.Context, url string, maxResults int, resultType string, timeout time.Duration) (automation.Outcome, error) {
	var html string
	if err := Navigate(ctx, url, timeout, &html); err != nil {
		return navigationOutcome(err), nil
	}
	if loggedOut(ctx) {
		return sessionInvalidOutcome(), nil
	}

	var cards []profileCard
	if err := chromedp.Run(ctx, chromedp.Evaluate(extractProfileCardsJS, &cards)); err != nil {
		return automation.Outcome{}, fmt.Errorf("extract profiles: %w", err)
	}
	if maxResults > 0 && len(cards) > maxResults {
		cards = cards[:maxResults]
	}

	outcome := automation.Outcome{Log: []byte(html)}
	for _, card := range cards {
		data, err := json.Marshal(card)
		if err != nil {
			return automation.Outcome{}, fmt.Errorf("marshal profile card: %w", err)
		}
		outcome.Results = append(outcome.Results, automation.RunResult{
			Type:       resultType,
			ResultData: data,
		})
	}
	if len(outcome.Results) == 0 {
		outcome.Errors = append(outcome.Errors, automation.RunError{
			ErrorType:    automation.ErrorTypeTransient,
			ErrorCode:    "NO_RESULTS_RENDERED",
			ErrorMessage: "result page rendered without profile cards",
		})
	}
	return outcome, nil
}

func sendConnectionRequestScript(timeout time.Duration) Script {
	return func(ctx context.Context, run automation.Run) (automation.Outcome, error) {
		var payload automation.SendConnectionRequestPayload
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return automation.Outcome{}, fmt.Errorf("decode payload: %w", err)
		}

		var html string
		if err := Navigate(ctx, payload.ProfileURL, timeout, &html); err != nil {
			return navigationOutcome(err), nil
		}
		if loggedOut(ctx) {
			return sessionInvalidOutcome(), nil
		}

		actions := []chromedp.Action{
			chromedp.Click(`button[aria-label^="Invite"], button[aria-label^="Connect"]`, chromedp.ByQuery),
		}
		if payload.Note != "" {
			actions = append(actions,
				chromedp.Click(`button[aria-label="Add a note"]`, chromedp.ByQuery),
				chromedp.SendKeys(`textarea[name="message"]`, payload.Note, chromedp.ByQuery),
			)
		}
		actions = append(actions, chromedp.Click(`button[aria-label^="Send"]`, chromedp.ByQuery))
		if err := chromedp.Run(ctx, actions...); err != nil {
			return automation.Outcome{
				Log: []byte(html),
				Errors: []automation.RunError{{
					ErrorType:    automation.ErrorTypeTransient,
					ErrorCode:    "CONNECT_FLOW_FAILED",
					ErrorMessage: err.Error(),
				}},
			}, nil
		}

		data, err := json.Marshal(map[string]string{"profile_url": payload.ProfileURL, "note": payload.Note})
		if err != nil {
			return automation.Outcome{}, fmt.Errorf("marshal result: %w", err)
		}
		return automation.Outcome{
			Log:     []byte(html),
			Results: []automation.RunResult{{Type: "connection_request", ResultData: data}},
		}, nil
	}
}

func sendMessageScript(timeout time.Duration) Script {
	return func(ctx context.Context, run automation.Run) (automation.Outcome, error) {
		var payload automation.SendMessagePayload
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return automation.Outcome{}, fmt.Errorf("decode payload: %w", err)
		}

		var html string
		if err := Navigate(ctx, payload.ProfileURL, timeout, &html); err != nil {
			return navigationOutcome(err), nil
		}
		if loggedOut(ctx) {
			return sessionInvalidOutcome(), nil
		}

		err := chromedp.Run(ctx,
			chromedp.Click(`button[aria-label^="Message"]`, chromedp.ByQuery),
			chromedp.SendKeys(`div[contenteditable="true"]`, payload.Message, chromedp.ByQuery),
			chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		)
		if err != nil {
			return automation.Outcome{
				Log: []byte(html),
				Errors: []automation.RunError{{
					ErrorType:    automation.ErrorTypeTransient,
					ErrorCode:    "MESSAGE_FLOW_FAILED",
					ErrorMessage: err.Error(),
				}},
			}, nil
		}

		data, err := json.Marshal(map[string]string{"profile_url": payload.ProfileURL})
		if err != nil {
			return automation.Outcome{}, fmt.Errorf("marshal result: %w", err)
		}
		return automation.Outcome{
			Log:     []byte(html),
			Results: []automation.RunResult{{Type: "message", ResultData: data}},
		}, nil
	}
}

const connectionsPageURL = "https://www.linkedin.com/mynetwork/invite-connect/connections/"

func downloadConnectionsScript(timeout time.Duration) Script {
	return func(ctx context.Context, run automation.Run) (automation.Outcome, error) {
		var html string
		if err := Navigate(ctx, connectionsPageURL, timeout, &html); err != nil {
			return navigationOutcome(err), nil
		}
		if loggedOut(ctx) {
			return sessionInvalidOutcome(), nil
		}

		var cards []profileCard
		js := strings.Replace(extractProfileCardsJS, "search-entity-result", "connection", 1)
		if err := chromedp.Run(ctx, chromedp.Evaluate(js, &cards)); err != nil {
			return automation.Outcome{}, fmt.Errorf("extract connections: %w", err)
		}

		outcome := automation.Outcome{Log: []byte(html), PostProcess: true}
		for _, card := range cards {
			data, err := json.Marshal(card)
			if err != nil {
				return automation.Outcome{}, fmt.Errorf("marshal connection: %w", err)
			}
			outcome.Results = append(outcome.Results, automation.RunResult{
				Type:       "connection_export",
				ResultData: data,
			})
		}
		return outcome, nil
	}
}

// loggedOut detects the redirect-to-login pattern the target site uses for
// expired sessions.
func loggedOut(ctx context.Context) bool {
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return false
	}
	return strings.Contains(location, "/login") || strings.Contains(location, "/authwall")
}

func navigationOutcome(err error) automation.Outcome {
	errType := automation.ErrorTypeTransient
	code := "PAGE_LOAD_FAILED"
	if errors.Is(err, context.DeadlineExceeded) {
		errType = automation.ErrorTypeTimeout
		code = "NAVIGATION_TIMEOUT"
	}
	return automation.Outcome{Errors: []automation.RunError{{
		ErrorType:    errType,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}}}
}

func sessionInvalidOutcome() automation.Outcome {
	return automation.Outcome{Errors: []automation.RunError{{
		ErrorType:    automation.ErrorTypeSessionInvalid,
		ErrorCode:    "SESSION_REJECTED",
		ErrorMessage: "target site redirected to login",
	}}}
}
