// inkwell-probe is a tiny deploy-time checker: it hits the health and
// readiness endpoints of a running server over fasthttp and exits
// non-zero when either fails.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	client := &fasthttp.Client{
		Name:         "inkwell-probe",
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	exit := 0
	for _, path := range []string{"/healthz", "/readyz"} {
		status, body, err := probe(client, *base+path, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exit = 1
			continue
		}
		if status != fasthttp.StatusOK {
			fmt.Fprintf(os.Stderr, "%s: status %d: %s\n", path, status, body)
			exit = 1
			continue
		}
		fmt.Printf("%s: ok %s\n", path, body)
	}
	os.Exit(exit)
}

func probe(client *fasthttp.Client, url string, timeout time.Duration) (int, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	if err := client.DoTimeout(req, resp, timeout); err != nil {
		return 0, "", err
	}
	return resp.StatusCode(), string(resp.Body()), nil
}
