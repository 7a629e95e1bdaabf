package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type crewFile struct {
	Context string `yaml:"context"`
	Agents  []struct {
		Name         string `yaml:"name"`
		Instructions string `yaml:"instructions"`
	} `yaml:"agents"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  crewrun --file crew.yaml [--out report.txt] [--key "gsk-..."]`)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  CREWDECK_URL  server address (default http://localhost:8080)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func postJSON(url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getRun(server, id string) (*runResponse, error) {
	resp, err := http.Get(server + "/api/runs/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var run runResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func fetchReport(server, id string) ([]byte, error) {
	resp, err := http.Get(server + "/api/runs/" + id + "/report")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func main() {
	server := os.Getenv("CREWDECK_URL")
	if server == "" {
		server = "http://localhost:8080"
	}

	args := parseArgs(os.Args[1:])
	if args["file"] == "" {
		usage()
	}

	data, err := os.ReadFile(args["file"])
	if err != nil {
		fatal("read crew file: %v", err)
	}
	var crew crewFile
	if err := yaml.Unmarshal(data, &crew); err != nil {
		fatal("parse crew file: %v", err)
	}
	if len(crew.Agents) == 0 {
		fatal("crew file defines no agents")
	}

	if args["key"] != "" {
		var ok map[string]string
		if err := postJSON(server+"/api/credential", map[string]string{"api_key": args["key"]}, &ok); err != nil {
			fatal("set credential: %v", err)
		}
	}

	agents := make([]map[string]string, 0, len(crew.Agents))
	for _, a := range crew.Agents {
		agents = append(agents, map[string]string{
			"name":         a.Name,
			"instructions": a.Instructions,
		})
	}

	var run runResponse
	err = postJSON(server+"/api/runs", map[string]any{
		"context": crew.Context,
		"agents":  agents,
	}, &run)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Run started: %s (%d agents)\n", run.ID, len(crew.Agents))

	for {
		time.Sleep(time.Second)
		current, err := getRun(server, run.ID)
		if err != nil {
			fatal("poll run: %v", err)
		}
		switch current.Status {
		case "completed":
			report, err := fetchReport(server, run.ID)
			if err != nil {
				fatal("fetch report: %v", err)
			}
			out := args["out"]
			if out == "" {
				os.Stdout.Write(report)
				return
			}
			if err := os.WriteFile(out, report, 0o644); err != nil {
				fatal("write report: %v", err)
			}
			fmt.Printf("Report written to %s\n", out)
			return
		case "failed":
			fatal("run failed: %s", current.Error)
		}
	}
}
