// Command admin manages towns on a running server over its HTTP surface.
//
//	admin create -url http://localhost:8081 -name "My Town" -public
//	admin list   -url http://localhost:8081
//	admin update -url ... -town <id> -password <pw> -name "New Name" -public
//	admin delete -url ... -town <id> -password <pw>
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "create":
			createCmd(os.Args[2:])
			return
		case "update":
			updateCmd(os.Args[2:])
			return
		case "delete":
			deleteCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8081", "server base url")
	_ = fs.Parse(args)

	resp, err := http.Get(*url + "/towns")
	if err != nil {
		die("list: %v", err)
	}
	defer resp.Body.Close()
	requireOK(resp)

	var out struct {
		Towns []struct {
			TownID       string `json:"townId"`
			FriendlyName string `json:"friendlyName"`
			Occupancy    int    `json:"occupancy"`
			Capacity     int    `json:"capacity"`
		} `json:"towns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		die("decode: %v", err)
	}
	for _, t := range out.Towns {
		fmt.Printf("%s  %d/%d  %s\n", t.TownID, t.Occupancy, t.Capacity, t.FriendlyName)
	}
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8081", "server base url")
	name := fs.String("name", "", "friendly name")
	public := fs.Bool("public", false, "list publicly")
	_ = fs.Parse(args)
	if *name == "" {
		die("missing -name")
	}

	body, _ := json.Marshal(map[string]any{"friendlyName": *name, "publiclyListed": *public})
	resp, err := http.Post(*url+"/towns", "application/json", bytes.NewReader(body))
	if err != nil {
		die("create: %v", err)
	}
	defer resp.Body.Close()
	requireOK(resp)

	var out struct {
		TownID         string `json:"townId"`
		UpdatePassword string `json:"updatePassword"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		die("decode: %v", err)
	}
	fmt.Printf("town %s\npassword %s\n", out.TownID, out.UpdatePassword)
}

func updateCmd(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8081", "server base url")
	townID := fs.String("town", "", "town id")
	password := fs.String("password", "", "update password")
	name := fs.String("name", "", "new friendly name")
	public := fs.Bool("public", false, "list publicly")
	_ = fs.Parse(args)
	if *townID == "" || *password == "" || *name == "" {
		die("missing -town, -password or -name")
	}

	body, _ := json.Marshal(map[string]any{
		"updatePassword": *password,
		"friendlyName":   *name,
		"publiclyListed": *public,
	})
	doJSON(http.MethodPatch, *url+"/towns/"+*townID, body)
	fmt.Println("ok")
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8081", "server base url")
	townID := fs.String("town", "", "town id")
	password := fs.String("password", "", "update password")
	_ = fs.Parse(args)
	if *townID == "" || *password == "" {
		die("missing -town or -password")
	}

	body, _ := json.Marshal(map[string]string{"updatePassword": *password})
	doJSON(http.MethodDelete, *url+"/towns/"+*townID, body)
	fmt.Println("ok")
}

func doJSON(method, url string, body []byte) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		die("%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		die("%s: %v", method, err)
	}
	defer resp.Body.Close()
	requireOK(resp)
}

func requireOK(resp *http.Response) {
	if resp.StatusCode == http.StatusOK {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	die("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
