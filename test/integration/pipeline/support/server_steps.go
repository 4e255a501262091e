package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// RegisterServerSteps registers the steps that drive the HTTP control API.
func (tc *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the control server is running$`, tc.StartServer)
	sc.Step(`^I send a (GET|POST|PUT|DELETE) request to "([^"]*)"$`, tc.sendRequest)
	sc.Step(`^I send a (POST|PUT) request to "([^"]*)" with body:$`, tc.sendRequestWithBody)
	sc.Step(`^I wait for playback to finish$`, tc.waitForPlayback)
	sc.Step(`^the response status should be (\d+)$`, tc.responseStatus)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, tc.responseField)
	sc.Step(`^the response should be a PNG image$`, tc.responsePNG)
	sc.Step(`^a websocket client is connected$`, tc.connectWebSocket)
	sc.Step(`^the websocket client should receive a "(\w+)" message containing "([^"]*)"$`, tc.websocketReceives)
}

// expand replaces {video} with the scenario's video path.
func (tc *TestContext) expand(s string) string {
	return strings.ReplaceAll(s, "{video}", tc.VideoPath)
}

func (tc *TestContext) sendRequest(method, path string) error {
	return tc.do(method, path, nil)
}

func (tc *TestContext) sendRequestWithBody(method, path string, body *godog.DocString) error {
	return tc.do(method, path, strings.NewReader(tc.expand(body.Content)))
}

func (tc *TestContext) do(method, path string, body io.Reader) error {
	if tc.HTTP == nil {
		return errors.New("control server is not running")
	}
	req, err := http.NewRequest(method, tc.HTTP.URL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := tc.HTTP.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastCode = resp.StatusCode
	tc.LastBody = string(data)
	tc.LastFrame = nil
	if resp.Header.Get("Content-Type") == "image/png" {
		tc.LastFrame = data
	}
	return nil
}

func (tc *TestContext) waitForPlayback() error {
	ctx, cancel := WaitCtx()
	defer cancel()
	if err := tc.Session.WaitForPlayback(ctx); err != nil {
		return err
	}
	tc.Release()
	return tc.Session.Drain(ctx)
}

func (tc *TestContext) responseStatus(code int) error {
	if tc.LastCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastCode, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) responseField(field, expected string) error {
	var body map[string]any
	if err := json.Unmarshal([]byte(tc.LastBody), &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", field, tc.LastBody)
	}
	if got := fmt.Sprint(v); got != tc.expand(expected) {
		return fmt.Errorf("expected %s %q, got %q", field, expected, got)
	}
	return nil
}

func (tc *TestContext) responsePNG() error {
	if tc.LastFrame == nil {
		return fmt.Errorf("response is not a PNG image: %s", tc.LastBody)
	}
	_, err := png.Decode(bytes.NewReader(tc.LastFrame))
	return err
}

func (tc *TestContext) connectWebSocket() error {
	if tc.HTTP == nil {
		return errors.New("control server is not running")
	}
	url := "ws" + strings.TrimPrefix(tc.HTTP.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	tc.WS = conn

	deadline := time.Now().Add(stepTimeout)
	for tc.Server.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			return errors.New("websocket client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (tc *TestContext) websocketReceives(kind, text string) error {
	if tc.WS == nil {
		return errors.New("no websocket client")
	}
	if err := tc.WS.SetReadDeadline(time.Now().Add(stepTimeout)); err != nil {
		return err
	}
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := tc.WS.ReadJSON(&msg); err != nil {
			return fmt.Errorf("no %s message containing %q: %w", kind, text, err)
		}
		if msg.Type == kind && strings.Contains(string(msg.Payload), text) {
			return nil
		}
	}
}
