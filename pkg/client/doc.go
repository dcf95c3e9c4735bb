// Package client is the docchaser Go SDK.
//
// It wraps the HTTP API a broker dashboard or a cron job talks to: creating
// document requests, tracking them, and triggering the reminder sweep.
//
// # Creating a request
//
//	c := client.MustNew("http://localhost:8080")
//	deadline := time.Now().Add(72 * time.Hour)
//	res, err := c.CreateRequest(ctx, client.CreateRequestInput{
//	    ClientName:   "Jane Doe",
//	    ClientPhone:  "+15551234567",
//	    DocumentType: "Proof of Income",
//	    Deadline:     &deadline,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Request.UploadLink)
//
// # Running the reminder sweep
//
// The sweep route is guarded by a shared secret when the server has one:
//
//	c := client.MustNew(baseURL, client.WithBearerToken(os.Getenv("CRON_SECRET")))
//	out, err := c.RunReminders(ctx)
//
// Non-2xx responses are returned as *APIError; a 404 also matches ErrNotFound
// with errors.Is.
package client
