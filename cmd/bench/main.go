package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Floods a node's /swarm/ping endpoint to exercise the incoming-ping path
// under load.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "node address")
	n := flag.Int("n", 5000, "requests")
	conc := flag.Int("c", 32, "concurrency")
	id := flag.String("id", "bench", "sender id to claim in pings")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)
	payload := []byte(fmt.Sprintf(`{"id":%q}`, *id))

	var mu sync.Mutex
	ok, fail := 0, 0

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func() {
			defer wg.Done()
			resp, err := client.Post(*addr+"/swarm/ping", "application/json", bytes.NewReader(payload))
			mu.Lock()
			if err == nil && resp.StatusCode == http.StatusOK {
				ok++
			} else {
				fail++
			}
			mu.Unlock()
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			<-ch
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("pings: %d ok, %d failed in %s (%.0f req/s)\n",
		ok, fail, elapsed, float64(*n)/elapsed.Seconds())
}
