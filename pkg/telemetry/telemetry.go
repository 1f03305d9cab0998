// Package telemetry is the consent-gated usage reporting client of a hosted
// plugin.
//
// Events go through a durable outbox: Track enriches an event and persists
// it, a periodic flush delivers queued events one by one and deletes only
// those the analytics backend accepted. Nothing is queued or sent before the
// user opted in, and no tracking call ever returns an error to the caller.
//
//	client, err := telemetry.New(ctx, telemetry.Config{
//		APIKey:        key,
//		APISecret:     secret,
//		PluginName:    "Creator LMS",
//		PluginVersion: "1.4.0",
//		HostName:      "WordPress",
//		HostVersion:   "6.5",
//		SiteURL:       "https://example.com",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	client.Init(ctx)
//	client.Track(ctx, "course_created", event.Of("course_id", 12))
package telemetry
