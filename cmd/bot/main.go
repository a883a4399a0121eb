// Command bot joins (or creates) a town and wanders around chatting. Useful
// as a smoke test against a running server and as a reference client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"townsquare.app/internal/client"
	"townsquare.app/internal/protocol"
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8081", "server base url")
		wsURL   = flag.String("ws", "ws://localhost:8081/v1/ws", "session ws url")
		townID  = flag.String("town", "", "town to join (empty: create a new one)")
		name    = flag.String("name", "bot", "user name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	id := *townID
	if id == "" {
		created, err := createTown(*baseURL, fmt.Sprintf("%s's town", *name))
		if err != nil {
			logger.Fatalf("create town: %v", err)
		}
		id = created
		logger.Printf("created town %s", id)
	}

	join, err := requestSession(*baseURL, id, *name)
	if err != nil {
		logger.Fatalf("join town: %v", err)
	}
	logger.Printf("joined %q as player %s", join.FriendlyName, join.PlayerID)

	zlog, _ := zap.NewDevelopment()
	ctrl, err := client.Connect(*wsURL, join.Token, id, zlog.Sugar())
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer ctrl.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ctrl.Done():
			logger.Printf("session closed by server")
			return
		case <-ticker.C:
		}

		state := ctrl.State()
		loc := protocol.Location{
			X:        state.CurrentLocation.X + float64(r.Intn(41)-20),
			Y:        state.CurrentLocation.Y + float64(r.Intn(41)-20),
			Rotation: protocol.RotationFront,
		}
		if err := ctrl.EmitMovement(loc); err != nil {
			logger.Fatalf("move: %v", err)
		}

		if i%5 == 0 {
			msg := protocol.Message{
				SenderID:   state.MyPlayerID,
				SenderName: state.UserName,
				Location:   loc,
				Content:    fmt.Sprintf("hello from (%.0f, %.0f)", loc.X, loc.Y),
				Timestamp:  time.Now().UnixMilli(),
				Kind:       protocol.KindTown,
			}
			if err := ctrl.EmitMessage(msg); err != nil {
				logger.Fatalf("chat: %v", err)
			}
		}
		logger.Printf("pos=(%.0f, %.0f) nearby=%v town_msgs=%d",
			loc.X, loc.Y, state.NearbyPlayerIDs, len(state.TownChain.Messages()))
	}
}

func createTown(baseURL, friendlyName string) (string, error) {
	body, _ := json.Marshal(map[string]any{"friendlyName": friendlyName, "publiclyListed": true})
	resp, err := http.Post(baseURL+"/towns", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		TownID string `json:"townId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TownID, nil
}

type sessionInfo struct {
	Token        string `json:"token"`
	PlayerID     string `json:"playerId"`
	FriendlyName string `json:"friendlyName"`
}

func requestSession(baseURL, townID, userName string) (sessionInfo, error) {
	body, _ := json.Marshal(map[string]string{"userName": userName})
	resp, err := http.Post(baseURL+"/towns/"+townID+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return sessionInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sessionInfo{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return sessionInfo{}, err
	}
	return out, nil
}
