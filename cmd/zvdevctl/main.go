// Command zvdevctl is the administrative front-end for the pool
// activity and device-lifecycle surface (§6.1): attach/replace/detach/
// remove/online/offline/clear/labelclear manage topology, scrub/
// resilver/trim/initialize/checkpoint drive the activity state
// machine, and wait blocks for any of them to finish.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/robn/zvdev/internal/activity"
	"github.com/robn/zvdev/internal/lifecycle"
	"github.com/robn/zvdev/internal/observer"
	"github.com/robn/zvdev/internal/poolhandle"
)

// opts carries flags shared by every subcommand.
var opts struct {
	Mock bool   `long:"mock" description:"operate against an in-memory demo pool instead of a real pool handle"`
	Pool string `long:"pool" default:"tank" description:"name of the pool to operate on"`
}

// session bundles the resolved pool handle and activity state that
// every subcommand's Execute needs; built once in main() after the
// global flags are parsed.
type session struct {
	ph   poolhandle.PoolHandle
	h    poolhandle.Handle
	act  *activity.Pool
	mock *poolhandle.Mock
}

var sess session

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	parser.AddCommand("attach", "Attach a new device to a mirror or raidz", "", &attachCmd{})
	parser.AddCommand("replace", "Replace an existing device", "", &replaceCmd{})
	parser.AddCommand("detach", "Detach a mirror leg", "", &detachCmd{})
	parser.AddCommand("remove", "Remove a top-level device", "", &removeCmd{})
	parser.AddCommand("online", "Bring a device online", "", &onlineCmd{})
	parser.AddCommand("offline", "Take a device offline", "", &offlineCmd{})
	parser.AddCommand("clear", "Clear persistent device errors", "", &clearCmd{})
	parser.AddCommand("labelclear", "Erase ZFS labels on a device", "", &labelClearCmd{})
	parser.AddCommand("scrub", "Start, pause, or stop a scrub", "", &scrubCmd{})
	parser.AddCommand("resilver", "Restart an in-progress resilver", "", &resilverCmd{})
	parser.AddCommand("trim", "Start, cancel, or suspend a trim", "", &trimCmd{})
	parser.AddCommand("initialize", "Start, cancel, or suspend initialization", "", &initializeCmd{})
	parser.AddCommand("checkpoint", "Create or discard a pool checkpoint", "", &checkpointCmd{})
	parser.AddCommand("wait", "Wait for one or more activities to finish", "", &waitCmd{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrCommandRequired {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// initSession lazily builds the package-level session the first time a
// subcommand's Execute needs one; go-flags constructs command structs
// before global flags finish parsing, so this can't happen in init().
func initSession() error {
	if sess.ph != nil {
		return nil
	}
	if !opts.Mock {
		return fmt.Errorf("zvdevctl: no real pool-handle backend is wired; pass --mock")
	}
	m := poolhandle.NewMock()
	demoPool(m, opts.Pool)
	h, err := m.Open(opts.Pool)
	if err != nil {
		return err
	}
	sess = session{ph: m, h: h, act: activity.NewPool(m, h), mock: m}
	return nil
}

func exitWith(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stderr, "zvdevctl:", err)
	}
	return err
}

type vdevArg struct {
	Vdev string `positional-arg-name:"vdev" description:"device path of the target vdev"`
}

// resolveVdev finds the GUID of the leaf vdev at the given device path.
func resolveVdev(path string) (uint64, error) {
	var found uint64
	var ok bool
	err := sess.ph.ForEachVdev(sess.h, func(v *poolhandle.Vdev) error {
		if v.Path == path {
			found, ok = v.GUID, true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no such vdev: %s", path)
	}
	return found, nil
}

type attachCmd struct {
	Force      bool   `short:"f" description:"force the attach"`
	Sequential bool   `short:"s" long:"sequential" description:"use sequential reconstruction"`
	Wait       bool   `short:"w" description:"wait for the resulting resilver/expansion to finish"`
	Ashift     uint32 `short:"o" long:"ashift" description:"ashift=N for the new device"`
	Args       struct {
		ExistingVdev string `positional-arg-name:"existing-vdev"`
		NewDevice    string `positional-arg-name:"new-device"`
	} `positional-args:"yes" required:"yes"`
}

func (c *attachCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.ExistingVdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Attach(sess.ph, sess.h, sess.act, guid, c.Args.NewDevice, lifecycle.AttachOptions{
		Force: c.Force, SequentialRebuild: c.Sequential, Ashift: c.Ashift, Wait: c.Wait,
	})
	fmt.Println(res)
	return exitWith(err)
}

type replaceCmd struct {
	Force      bool   `short:"f"`
	Sequential bool   `short:"s" long:"sequential"`
	Wait       bool   `short:"w"`
	Ashift     uint32 `short:"o" long:"ashift"`
	Args       struct {
		OldVdev   string `positional-arg-name:"old-vdev"`
		NewDevice string `positional-arg-name:"new-device"`
	} `positional-args:"yes" required:"yes"`
}

func (c *replaceCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.OldVdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Replace(sess.ph, sess.h, sess.act, guid, c.Args.NewDevice, lifecycle.AttachOptions{
		Force: c.Force, SequentialRebuild: c.Sequential, Ashift: c.Ashift, Wait: c.Wait,
	})
	fmt.Println(res)
	return exitWith(err)
}

type detachCmd struct {
	Args vdevArg `positional-args:"yes" required:"yes"`
}

func (c *detachCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.Vdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Detach(sess.ph, sess.h, guid)
	fmt.Println(res)
	return exitWith(err)
}

type removeCmd struct {
	NoopEstimate bool    `short:"n" description:"validate only, don't start (no estimate is printed)"`
	Parsable     bool    `short:"p" description:"parsable output"`
	Stop         bool    `short:"s" description:"stop an in-progress removal"`
	Wait         bool    `short:"w"`
	Args         vdevArg `positional-args:"yes" required:"yes"`
}

func (c *removeCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.Vdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Remove(sess.ph, sess.h, sess.act, guid, lifecycle.RemoveOptions{
		NoopEstimate: c.NoopEstimate, ParsableOutput: c.Parsable, Stop: c.Stop, Wait: c.Wait,
	})
	fmt.Println(res)
	return exitWith(err)
}

type onlineCmd struct {
	Power  bool    `long:"power" description:"power-cycle the enclosure slot first"`
	Expand bool    `short:"e" description:"expand the device to use all available space"`
	Args   vdevArg `positional-args:"yes" required:"yes"`
}

func (c *onlineCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.Vdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Online(sess.ph, sess.h, noopSlotPower{}, guid, lifecycle.OnlineOptions{Expand: c.Expand, PowerOn: c.Power})
	fmt.Println(res)
	return exitWith(err)
}

type offlineCmd struct {
	Power     bool    `long:"power"`
	Force     bool    `short:"f"`
	Temporary bool    `short:"t"`
	Args      vdevArg `positional-args:"yes" required:"yes"`
}

func (c *offlineCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guid, err := resolveVdev(c.Args.Vdev)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.Offline(sess.ph, sess.h, guid, lifecycle.OfflineOptions{Force: c.Force, Temporary: c.Temporary})
	fmt.Println(res)
	return exitWith(err)
}

type clearCmd struct {
	DryRewind     bool `short:"n"`
	FullRewind    bool `short:"F"`
	ExtremeRewind bool `short:"X"`
	Power         bool `long:"power"`
	Args          struct {
		Vdevs []string `positional-arg-name:"vdev"`
	} `positional-args:"yes"`
}

func (c *clearCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	guids := make([]uint64, 0, len(c.Args.Vdevs))
	for _, path := range c.Args.Vdevs {
		guid, err := resolveVdev(path)
		if err != nil {
			return exitWith(err)
		}
		guids = append(guids, guid)
	}
	res, err := lifecycle.ClearErrors(sess.ph, sess.h, guids, lifecycle.ClearOptions{
		DryRewind: c.DryRewind, FullRewind: c.FullRewind, ExtremeRewind: c.ExtremeRewind, PowerOn: c.Power,
	})
	fmt.Println(res)
	return exitWith(err)
}

type labelClearCmd struct {
	Force bool    `short:"f"`
	Args  vdevArg `positional-args:"yes" required:"yes"`
}

func (c *labelClearCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	tree, err := sess.ph.GetConfig(sess.h)
	if err != nil {
		return exitWith(err)
	}
	res, err := lifecycle.LabelWipe(tree.Status, true, lifecycle.LabelWipeOptions{Force: c.Force})
	fmt.Println(res)
	return exitWith(err)
}

type scrubCmd struct {
	Stop       bool `short:"s"`
	Pause      bool `short:"p"`
	ErrorScrub bool `short:"e"`
	Wait       bool `short:"w"`
}

func (c *scrubCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	kind := activity.Scrub
	if c.ErrorScrub {
		kind = activity.ErrorScrub
	}
	var err error
	switch {
	case c.Stop:
		err = sess.act.Cancel(kind)
	case c.Pause:
		err = sess.act.Pause(kind)
	default:
		err = sess.act.Start(kind, activity.StartParams{})
	}
	if err != nil {
		return exitWith(err)
	}
	if c.Wait {
		return exitWith(sess.act.WaitForActivity(kind, time.Time{}))
	}
	return nil
}

type resilverCmd struct{}

func (c *resilverCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	if sess.act.State(activity.Resilver) == activity.StateScanning {
		if err := sess.act.Cancel(activity.Resilver); err != nil {
			return exitWith(err)
		}
	}
	return exitWith(sess.act.Start(activity.Resilver, activity.StartParams{}))
}

type trimCmd struct {
	Cancel  bool   `short:"c"`
	Secure  bool   `short:"d"`
	Rate    uint64 `short:"r" long:"rate"`
	Suspend bool   `short:"s"`
	Wait    bool   `short:"w"`
}

func (c *trimCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	var err error
	switch {
	case c.Cancel:
		err = sess.act.Cancel(activity.Trim)
	case c.Suspend:
		err = sess.act.Pause(activity.Trim)
	default:
		err = sess.act.Start(activity.Trim, activity.StartParams{Rate: c.Rate, Secure: c.Secure})
	}
	if err != nil {
		return exitWith(err)
	}
	if c.Wait {
		return exitWith(sess.act.WaitForActivity(activity.Trim, time.Time{}))
	}
	return nil
}

type initializeCmd struct {
	Cancel  bool `short:"c"`
	Suspend bool `short:"s"`
	Uninit  bool `short:"u"`
	Wait    bool `short:"w"`
}

func (c *initializeCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	var err error
	switch {
	case c.Cancel, c.Uninit:
		err = sess.act.Cancel(activity.Initialize)
	case c.Suspend:
		err = sess.act.Pause(activity.Initialize)
	default:
		err = sess.act.Start(activity.Initialize, activity.StartParams{})
	}
	if err != nil {
		return exitWith(err)
	}
	if c.Wait {
		return exitWith(sess.act.WaitForActivity(activity.Initialize, time.Time{}))
	}
	return nil
}

type checkpointCmd struct {
	Discard bool `short:"d"`
	Wait    bool `short:"w"`
}

func (c *checkpointCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}
	if c.Discard {
		if err := sess.act.DiscardCheckpoint(); err != nil {
			return exitWith(err)
		}
		if c.Wait {
			return exitWith(sess.act.WaitForCheckpointDiscard(time.Time{}))
		}
		return nil
	}
	return exitWith(sess.act.CreateCheckpoint())
}

type waitCmd struct {
	Scripted      bool     `short:"H"`
	ParsableExact bool     `short:"p"`
	Timestamp     string   `short:"T" description:"d (date) or u (unix)"`
	Activities    []string `short:"t" long:"activities" description:"subset of: discard, free, initialize, replace, remove, resilver, scrub, trim, raidz_expand"`
}

// activityKindByName maps wait -t's vocabulary onto activity.Kind,
// folding ZFS's "free" name for removal onto our shared Kind enum.
// "discard" (checkpoint-discard) isn't an activity.Kind at all — it's
// handled separately in waitCmd.Execute against Pool's checkpoint
// record, not this enum.
func activityKindByName(name string) (activity.Kind, bool) {
	switch name {
	case "scrub":
		return activity.Scrub, true
	case "resilver", "replace":
		return activity.Resilver, true
	case "initialize":
		return activity.Initialize, true
	case "trim":
		return activity.Trim, true
	case "remove", "free":
		return activity.Removal, true
	case "raidz_expand":
		return activity.RaidzExpand, true
	default:
		return 0, false
	}
}

func (c *waitCmd) Execute(args []string) error {
	if err := initSession(); err != nil {
		return exitWith(err)
	}

	kinds := []activity.Kind{activity.Scrub, activity.Resilver, activity.Trim, activity.Initialize, activity.Removal, activity.RaidzExpand}
	waitCheckpoint := true
	if len(c.Activities) > 0 {
		kinds = kinds[:0]
		waitCheckpoint = false
		for _, name := range c.Activities {
			if name == "discard" {
				waitCheckpoint = true
				continue
			}
			k, ok := activityKindByName(name)
			if !ok {
				return exitWith(fmt.Errorf("unknown activity: %s", name))
			}
			kinds = append(kinds, k)
		}
	}

	pres := observer.Presentation{Scripted: c.Scripted, ParsableExact: c.ParsableExact}
	switch c.Timestamp {
	case "d":
		pres.TimestampDate = true
	case "u":
		pres.TimestampUnix = true
	}

	code := observer.Wait(sess.act, kinds, time.Second, pres, os.Stdout, time.Time{})
	if waitCheckpoint {
		if err := sess.act.WaitForCheckpointDiscard(time.Time{}); err != nil {
			code = 1
		}
	}
	os.Exit(code)
	return nil
}
