// Command replay reads session journals written by the server and prints the
// events back, optionally filtered by town or player. Journals are
// hour-rotated zstd-compressed JSONL files.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"townsquare.app/internal/town"
)

func main() {
	var (
		dir      = flag.String("journal", "./data/sessions", "session journal directory")
		townID   = flag.String("town", "", "only events in this town")
		playerID = flag.String("player", "", "only events for this player")
		event    = flag.String("event", "", "only this event type (joined, left, message)")
	)
	flag.Parse()

	files, err := listJournalFiles(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journals:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files in", *dir)
		os.Exit(1)
	}

	var total, shown int
	for _, f := range files {
		n, m, err := dumpFile(f, *townID, *playerID, *event)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			os.Exit(1)
		}
		total += n
		shown += m
	}
	fmt.Fprintf(os.Stderr, "%d events, %d shown\n", total, shown)
}

func listJournalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "sessions-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func dumpFile(path, townID, playerID, event string) (total, shown int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, 0, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e town.SessionLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return total, shown, fmt.Errorf("line %d: %w", total+1, err)
		}
		total++
		if townID != "" && e.TownID != townID {
			continue
		}
		if playerID != "" && e.PlayerID != playerID {
			continue
		}
		if event != "" && e.Event != event {
			continue
		}
		shown++
		ts := time.UnixMilli(e.TimeMillis).UTC().Format(time.RFC3339)
		if e.Kind != "" {
			fmt.Printf("%s town=%s %s player=%s kind=%s\n", ts, e.TownID, e.Event, e.PlayerID, e.Kind)
		} else {
			fmt.Printf("%s town=%s %s player=%s\n", ts, e.TownID, e.Event, e.PlayerID)
		}
	}
	return total, shown, sc.Err()
}
