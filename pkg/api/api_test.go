/*
AcePanel Core
Copyright (c) 2026 The AcePanel Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of AcePanel Core.

AcePanel Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AcePanel Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acepanel/acepanel-core/pkg/api/models"
	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/device/session"
	"github.com/acepanel/acepanel-core/pkg/display/compose"
	"github.com/acepanel/acepanel-core/pkg/display/store"
	"github.com/acepanel/acepanel-core/pkg/service"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSerial struct {
	mu     sync.Mutex
	writes [][]byte
}

func (s *stubSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *stubSerial) Close() error { return nil }

type stubUSB struct{}

func (stubUSB) Write(_ context.Context, p []byte) (int, error) { return len(p), nil }
func (stubUSB) Close() error                                   { return nil }

type apiFixture struct {
	ts     *httptest.Server
	serial *stubSerial
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	serial := &stubSerial{}
	sess := session.NewWithTransports(session.Config{SerialPath: "/dev/null"},
		func(string) (session.SerialPort, error) { return serial, nil },
		func() (session.USBLink, error) { return stubUSB{}, nil },
		clockwork.NewFakeClock(),
	)
	t.Cleanup(sess.Close)

	st := store.NewStore(filepath.Join(t.TempDir(), "text_config.json"))
	st.Load()

	svc, notifs := service.New(st, compose.NewCompositor(""), sess)
	ts := httptest.NewServer(NewRouter(nil, svc, notifs))
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, serial: serial}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLightingEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/lighting", `{"theme":1,"intensity":3,"speed":2}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.serial.mu.Lock()
	require.Len(t, f.serial.writes, 1)
	assert.Equal(t, []byte{0xFA, 0x01, 0x03, 0x02, 0x00}, f.serial.writes[0])
	f.serial.mu.Unlock()
}

func TestLightingEndpointDefaults(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/lighting", `{"theme":4}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.serial.mu.Lock()
	require.Len(t, f.serial.writes, 1)
	assert.Equal(t, []byte{0xFA, 0x04, 0x03, 0x03, 0x04}, f.serial.writes[0])
	f.serial.mu.Unlock()
}

func TestLightingEndpointValidation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/lighting", `{"theme":9,"intensity":3,"speed":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/lighting", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/lighting", `{"theme":1,"unknown_field":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrientationEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/orientation", `{"orientation":"landscape"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/status", "")
	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "landscape", status.Orientation)

	resp = f.do(t, http.MethodPost, "/api/v1/orientation", `{"orientation":"diagonal"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTextLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/text",
		`{"is_static":true,"static_value":"CPU","x":10,"y":20}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.AddTextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, strings.HasPrefix(created.EntityID, "static_text_"))

	// Same static content collides
	resp = f.do(t, http.MethodPost, "/api/v1/text",
		`{"is_static":true,"static_value":"CPU","x":10,"y":20}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/text", "")
	var elements []compose.Element
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&elements))
	require.Len(t, elements, 1)
	assert.Equal(t, "CPU", elements[0].StaticText)

	resp = f.do(t, http.MethodPatch, "/api/v1/text/"+created.EntityID, `{"x":50}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/v1/text/nope", `{"x":50}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/text/"+created.EntityID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/text/"+created.EntityID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/text", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestValuesEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/values",
		`{"entity_id":"sensor.cpu","value":51.5}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/values",
		`{"entity_id":"sensor.state","value":"idle"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/values",
		`{"entity_id":"sensor.bad","value":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/values", `{"value":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageEndpointLengthCheck(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/image", "short")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	frame := strings.Repeat("\xAA", pixel.Portrait.BitmapLen())
	resp = f.do(t, http.MethodPost, "/api/v1/image", frame)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPreviewEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/preview", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/image/fill", `{"color":[255,0,0]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The transfer is asynchronous; poll until the resident image exists.
	require.Eventually(t, func() bool {
		r := f.do(t, http.MethodGet, "/api/v1/preview", "")
		if r.StatusCode != http.StatusOK {
			return false
		}
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		img, err := png.Decode(r.Body)
		require.NoError(t, err)
		w, h := pixel.Portrait.Size()
		assert.Equal(t, w, img.Bounds().Dx())
		assert.Equal(t, h, img.Bounds().Dy())
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClearAndTestPatternEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/image/test", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/image", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var version models.VersionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&version))
	assert.NotEmpty(t, version.Version)
	assert.NotEmpty(t, version.Platform)
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestEventsWebsocketHeartbeat(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.ts, "/api/v1/events"), nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), msg)
}

func TestEventsWebsocketBroadcast(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.ts, "/api/v1/events"), nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	// A ping round-trip guarantees the session is registered before the
	// notification fires.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), msg)

	post := f.do(t, http.MethodPost, "/api/v1/lighting", `{"theme":2,"intensity":1,"speed":1}`)
	require.Equal(t, http.StatusNoContent, post.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var event models.EventObject
		require.NoError(t, json.Unmarshal(msg, &event))
		if event.Method != models.NotificationLightingChanged {
			continue
		}

		assert.NotEmpty(t, event.ID)
		var params models.LightingParams
		require.NoError(t, json.Unmarshal(event.Params, &params))
		assert.Equal(t, 2, params.Theme)
		return
	}
}

func TestBodyTooLargeRejected(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	oversize := bytes.Repeat([]byte{0x01}, pixel.Portrait.BitmapLen()+10)
	resp := f.do(t, http.MethodPost, "/api/v1/image", string(oversize))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
