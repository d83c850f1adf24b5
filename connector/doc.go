// Package connector is the facade applications use to talk to the cache.
//
// A Connector resolves which provider serves each call (call option, then the
// configured default), constructs providers lazily on first use, encodes values
// with a codec, bounds every provider call with the operation timeout and
// records prometheus metrics for each operation:
//
//	conn, err := connector.New(cache.DefaultSettings(), connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	err = connector.Set(ctx, conn, key, user, cache.WithTTL(time.Minute), cache.WithTags("user:42"))
//	user, ok, err := connector.Get[User](ctx, conn, key)
//	err = conn.InvalidateByTags(ctx, []string{"user:42"})
//
// When Settings.Enabled is false every call is served by the no-op provider:
// reads miss and writes succeed without storing anything.
package connector
