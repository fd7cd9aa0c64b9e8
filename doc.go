// Package flagbind keeps a scoped, always-current view of feature flag values
// on top of a feature flag evaluation client.
//
// A [Provider] obtains a ready [Client] (either one supplied by the caller or
// one built through an [InitializeFunc]), fetches the initial flag values,
// follows the client's change notifications and exposes the result as an
// immutable [Snapshot]. Flag keys are camel-cased by default and reads through
// a [FlagView] call back into the client so that evaluation events are
// recorded.
//
// Consumers reach a provider explicitly, either by holding it or through a
// [context.Context] populated with [NewContext] (or the HTTP [Middleware]):
//
//	p, err := flagbind.New(flagbind.Config{
//		ClientID:    "key-id.secret",
//		Initialize:  evalclient.NewInitializer(evalclient.Config{BaseURL: "http://localhost:8080"}),
//		InitTimeout: 5 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	p.Start(ctx)
//	defer p.Stop()
//
//	if on, _ := p.Snapshot().Flags.Get("newCheckout"); on == true {
//		// ...
//	}
package flagbind
