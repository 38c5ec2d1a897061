package main

import (
	"testing"

	"github.com/spf13/pflag"
	"go.viam.com/test"
)

func TestChanged(t *testing.T) {
	var pan string
	var speed, distance float64
	var on bool
	flags := pflag.NewFlagSet("ptz", pflag.ContinueOnError)
	flags.StringVar(&pan, "pan", "", "")
	flags.Float64Var(&speed, "speed", 0.5, "")
	flags.Float64Var(&distance, "distance", 0.1, "")
	flags.BoolVar(&on, "on", false, "")
	test.That(t, flags.Parse([]string{"--pan", "LEFT", "--speed", "0.8", "--on"}), test.ShouldBeNil)

	args := map[string]interface{}{}
	changed(flags, args, "pan", "speed", "distance", "on", "missing")
	test.That(t, args, test.ShouldResemble, map[string]interface{}{
		"pan":   "LEFT",
		"speed": 0.8,
		"on":    true,
	})
}

func TestOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "1", "active"} {
		v, err := onOff(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldBeTrue)
	}
	for _, s := range []string{"off", "False", "0", "inactive"} {
		v, err := onOff(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldBeFalse)
	}
	_, err := onOff("maybe")
	test.That(t, err, test.ShouldNotBeNil)
}
