// Command simple_pool_test is a manual verification tool for connection
// reuse: it fires two sequential requests at the same host and reports
// whether the second one reused the first one's pooled connection.
package main

import (
	"fmt"
	"time"

	rawclient "github.com/asynchttp/rawclient"
)

func main() {
	fmt.Println("=== Simple Connection Pooling Test ===")

	client := rawclient.New(rawclient.DefaultSettings())
	defer client.Close()

	const url = "https://example.com/"

	for i := 1; i <= 2; i++ {
		fmt.Printf("Making Request %d...\n", i)
		result := client.ExecuteRequestFuture(mustRequest(url), "").Wait()
		if result.Error != nil {
			fmt.Printf("Error: %v\n", result.Error)
			return
		}
		reused := result.ConnMeta != nil && result.ConnMeta.ConnectionReused
		fmt.Printf("Request %d: reused=%v body=%d bytes\n", i, reused, len(result.Body))
		if i == 2 {
			if reused {
				fmt.Println("SUCCESS: connection pooling works")
			} else {
				fmt.Println("FAILURE: second request dialed a fresh connection")
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func mustRequest(url string) rawclient.Request {
	req, err := rawclient.NewRequest(rawclient.MethodGET, url)
	if err != nil {
		panic(err)
	}
	return req
}
