package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
	"github.com/hamzaKhattat/call-mediator/internal/provider"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type scenario struct {
	description string
	run         func(ctx context.Context, a *app) error
}

var scenarios = map[string]scenario{
	"outgoing":  {"Place, hold, resume and hang up an outgoing call", simulateOutgoing},
	"incoming":  {"Receive and answer a call, then a second call from another provider", simulateIncoming},
	"emergency": {"Dial an emergency number while another call is active", simulateEmergency},
	"handover":  {"Move an active call from one account to another", simulateHandover},
	"audio":     {"Plug a headset, switch to speaker and mute during a call", simulateAudio},
}

var audioRoute string

func createSimulateCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "simulate [scenario]",
		Short: "Run a call scenario against loopback providers",
		Long:  "Run a call scenario against loopback providers. Scenarios: " + strings.Join(scenarioNames(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, ok := scenarios[args[0]]
			if !ok {
				return fmt.Errorf("unknown scenario %q (choose from %s)", args[0], strings.Join(scenarioNames(), ", "))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.stop()

			opts := provider.DefaultOptions()
			opts.Delay = delay
			if err := a.start(ctx, opts); err != nil {
				return err
			}

			fmt.Printf("%s %s\n\n", bold("Scenario:"), sc.description)
			if err := sc.run(ctx, a); err != nil {
				return err
			}
			fmt.Printf("\n%s\n", green("Scenario completed"))
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 20*time.Millisecond, "Provider response delay")
	cmd.Flags().StringVar(&audioRoute, "route", "speaker", "Route the audio scenario switches to (earpiece, bluetooth, headset, speaker)")
	return cmd
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func step(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", blue("→"), fmt.Sprintf(format, args...))
}

// waitFor polls until the call reaches one of states, or is gone when no
// states are given.
func waitFor(ctx context.Context, a *app, id call.ID, states ...call.State) (call.Info, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		info, err := a.orch.Call(ctx, id)
		if len(states) == 0 && errors.Is(err, errors.ErrCallNotFound) {
			return info, nil
		}
		if err == nil && len(states) > 0 && info.State.In(states...) {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, fmt.Errorf("timed out waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func accountWith(a *app, pred func(call.Account) bool) (call.AccountHandle, error) {
	for _, acct := range a.orch.Accounts().List() {
		if pred(acct) {
			return acct.Handle, nil
		}
	}
	return call.AccountHandle{}, errors.New(errors.ErrAccountNotFound, "no suitable account configured")
}

func placeCall(ctx context.Context, a *app, handle string) (call.Info, error) {
	info, err := a.orch.StartOutgoingCall(ctx, orchestrator.OutgoingRequest{Handle: handle})
	if err != nil {
		return info, err
	}
	step("Dialing %s as %s on %s", handle, info.ID, info.Account)
	return waitFor(ctx, a, info.ID, call.StateActive)
}

func simulateOutgoing(ctx context.Context, a *app) error {
	info, err := placeCall(ctx, a, "5550100")
	if err != nil {
		return err
	}
	step("Connected")
	if err := printCalls(ctx, a); err != nil {
		return err
	}

	if err := a.orch.Hold(ctx, info.ID); err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, info.ID, call.StateOnHold); err != nil {
		return err
	}
	step("On hold")

	if err := a.orch.Unhold(ctx, info.ID); err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, info.ID, call.StateActive); err != nil {
		return err
	}
	step("Resumed")

	for _, d := range "123#" {
		if err := a.orch.SendDTMF(ctx, info.ID, d); err != nil {
			return err
		}
	}
	step("Sent DTMF 123#")

	if err := a.orch.Disconnect(ctx, info.ID); err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, info.ID); err != nil {
		return err
	}
	step("Disconnected")
	return printCalls(ctx, a)
}

func simulateIncoming(ctx context.Context, a *app) error {
	first, err := accountWith(a, func(acct call.Account) bool { return !acct.SelfManaged })
	if err != nil {
		return err
	}
	info, err := a.orch.ProcessIncomingCall(ctx, orchestrator.IncomingRequest{
		Account:           first,
		Handle:            "5550101",
		CallerDisplayName: "Alice",
	})
	if err != nil {
		return err
	}
	if info, err = waitFor(ctx, a, info.ID, call.StateRinging); err != nil {
		return err
	}
	step("Ringing from %s", info.Handle)

	if err := a.orch.Answer(ctx, info.ID, call.VideoAudioOnly); err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, info.ID, call.StateActive); err != nil {
		return err
	}
	step("Answered")

	other, err := accountWith(a, func(acct call.Account) bool { return acct.Handle.Provider != first.Provider })
	if err == nil {
		second, err := a.orch.ProcessIncomingCall(ctx, orchestrator.IncomingRequest{
			Account: other,
			Handle:  "5550102",
		})
		if err != nil {
			step("Second call turned away: %s", yellow(err.Error()))
		} else {
			if err := a.orch.Flush(ctx); err != nil {
				return err
			}
			step("Second call %s arrived on %s", second.ID, other)
		}
	}
	if err := printCalls(ctx, a); err != nil {
		return err
	}

	calls, err := a.orch.Calls(ctx)
	if err != nil {
		return err
	}
	for _, c := range calls {
		if err := a.orch.Disconnect(ctx, c.ID); err != nil {
			step("Could not end %s: %s", c.ID, yellow(err.Error()))
		}
	}
	return nil
}

func simulateEmergency(ctx context.Context, a *app) error {
	info, err := placeCall(ctx, a, "5550103")
	if err != nil {
		return err
	}
	step("Regular call %s active", info.ID)

	numbers := cfg.Orchestrator.EmergencyNumbers
	if len(numbers) == 0 {
		return errors.New(errors.ErrConfiguration, "no emergency numbers configured")
	}
	emergency, err := placeCall(ctx, a, numbers[0])
	if err != nil {
		return err
	}
	step("Emergency call %s active", emergency.ID)
	if err := printCalls(ctx, a); err != nil {
		return err
	}

	if err := a.orch.Disconnect(ctx, emergency.ID); err != nil {
		return err
	}
	_, err = waitFor(ctx, a, emergency.ID)
	return err
}

func simulateHandover(ctx context.Context, a *app) error {
	from, err := accountWith(a, func(acct call.Account) bool { return acct.SupportsHandoverFrom })
	if err != nil {
		return err
	}
	to, err := accountWith(a, func(acct call.Account) bool { return acct.SupportsHandoverTo && acct.Handle != from })
	if err != nil {
		return err
	}

	src, err := a.orch.StartOutgoingCall(ctx, orchestrator.OutgoingRequest{Handle: "5550104", Account: from})
	if err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, src.ID, call.StateActive); err != nil {
		return err
	}
	step("Call %s active on %s", src.ID, from)

	dst, err := a.orch.RequestHandover(ctx, orchestrator.HandoverRequest{Source: src.ID, Account: to})
	if err != nil {
		return err
	}
	step("Handover to %s started as %s", to, dst.ID)

	if _, err := waitFor(ctx, a, src.ID); err != nil {
		return err
	}
	step("Source %s released, handover complete", src.ID)
	if err := printCalls(ctx, a); err != nil {
		return err
	}
	return a.orch.Disconnect(ctx, dst.ID)
}

func simulateAudio(ctx context.Context, a *app) error {
	route, ok := audio.ParseRoute(audioRoute)
	if !ok {
		return errors.New(errors.ErrInvalidArgument, "unknown audio route: "+audioRoute)
	}

	info, err := placeCall(ctx, a, "5550105")
	if err != nil {
		return err
	}
	if err := printAudio(ctx, a, "Call active"); err != nil {
		return err
	}

	a.audio.ConnectWiredHeadset()
	if err := printAudio(ctx, a, "Headset plugged in"); err != nil {
		return err
	}

	if err := a.orch.SetAudioRoute(ctx, route); err != nil {
		return err
	}
	if err := printAudio(ctx, a, strings.ToLower(route.String())+" selected"); err != nil {
		return err
	}

	if err := a.orch.ToggleMute(ctx); err != nil {
		return err
	}
	if err := printAudio(ctx, a, "Mute toggled"); err != nil {
		return err
	}

	a.audio.DisconnectWiredHeadset()
	if err := a.orch.Disconnect(ctx, info.ID); err != nil {
		return err
	}
	if _, err := waitFor(ctx, a, info.ID); err != nil {
		return err
	}
	return printAudio(ctx, a, "Call ended")
}

func printAudio(ctx context.Context, a *app, label string) error {
	if err := a.audio.Sync(ctx); err != nil {
		return err
	}
	state, err := a.orch.AudioState()
	if err != nil {
		return err
	}
	muted := green("no")
	if state.Muted {
		muted = red("yes")
	}
	step("%-20s route=%s supported=%s muted=%s", label, bold(state.Route.String()), state.Supported, muted)
	return nil
}

func printCalls(ctx context.Context, a *app) error {
	calls, err := a.orch.Calls(ctx)
	if err != nil {
		return err
	}
	fg, hasFG, err := a.orch.ForegroundCall(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Call", "Direction", "Handle", "Account", "State", "Emergency", "Foreground"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, c := range calls {
		foreground := ""
		if hasFG && fg.ID == c.ID {
			foreground = green("*")
		}
		emergency := ""
		if c.Emergency {
			emergency = red("yes")
		}
		table.Append([]string{
			c.ID.String(),
			c.Direction.String(),
			c.Handle,
			c.Account.String(),
			colorState(c.State),
			emergency,
			foreground,
		})
	}
	fmt.Println()
	table.Render()
	fmt.Println()
	return nil
}

func colorState(s call.State) string {
	switch s {
	case call.StateActive:
		return green(s.String())
	case call.StateRinging, call.StateDialing, call.StateConnecting:
		return yellow(s.String())
	case call.StateDisconnecting, call.StateDisconnected, call.StateAborted:
		return red(s.String())
	default:
		return s.String()
	}
}
