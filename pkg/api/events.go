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
	"encoding/json"
	"net/http"

	"github.com/acepanel/acepanel-core/pkg/api/models"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

// eventSocket broadcasts service notifications to every connected websocket
// client. Clients may send "ping" for a heartbeat; everything else is
// ignored.
type eventSocket struct {
	m *melody.Melody
}

func newEventSocket(notifications <-chan models.Notification) *eventSocket {
	m := melody.New()
	m.Upgrader.CheckOrigin = func(*http.Request) bool { return true }

	m.HandleMessage(func(session *melody.Session, msg []byte) {
		if bytes.Equal(msg, []byte("ping")) {
			if err := session.Write([]byte("pong")); err != nil {
				log.Error().Err(err).Msg("sending pong")
			}
		}
	})

	es := &eventSocket{m: m}
	go es.broadcast(notifications)
	return es
}

// broadcast runs until the notifications channel closes, which happens on
// service shutdown.
func (es *eventSocket) broadcast(notifications <-chan models.Notification) {
	for notif := range notifications {
		event := models.EventObject{
			ID:     uuid.New(),
			Method: notif.Method,
			Params: notif.Params,
		}

		data, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("marshalling event")
			continue
		}

		if err := es.m.Broadcast(data); err != nil {
			log.Error().Err(err).Msg("broadcasting event")
		}
	}

	if err := es.m.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
}

func (es *eventSocket) handler(w http.ResponseWriter, r *http.Request) {
	if err := es.m.HandleRequest(w, r); err != nil {
		log.Error().Err(err).Msg("handling websocket request")
	}
}
