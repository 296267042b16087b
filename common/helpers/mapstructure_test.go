// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"errors"
	"net/netip"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"
)

func TestMapStructureMatchName(t *testing.T) {
	cases := []struct {
		pos       Pos
		mapKey    string
		fieldName string
		expected  bool
	}{
		{Mark(), "one", "one", true},
		{Mark(), "one", "One", true},
		{Mark(), "one-two", "OneTwo", true},
		{Mark(), "onetwo", "OneTwo", true},
		{Mark(), "One-Two", "OneTwo", true},
		{Mark(), "two", "one", false},
	}
	for _, tc := range cases {
		got := MapStructureMatchName(tc.mapKey, tc.fieldName)
		if got && !tc.expected {
			t.Errorf("%s%q == %q but expected !=", tc.pos, tc.mapKey, tc.fieldName)
		} else if !got && tc.expected {
			t.Errorf("%s%q != %q but expected ==", tc.pos, tc.mapKey, tc.fieldName)
		}
	}
}

func TestStringToSliceHookFunc(t *testing.T) {
	type Configuration struct {
		A []string
		B []int
	}
	TestConfigurationDecode(t, ConfigurationDecodeCases{
		{
			Initial: func() any { return Configuration{} },
			Configuration: func() any {
				return gin.H{
					"a": "blip,blop",
					"b": "1,2,3,4",
				}
			},
			Expected: Configuration{
				A: []string{"blip", "blop"},
				B: []int{1, 2, 3, 4},
			},
		},
	})
}

func TestTextUnmarshallerHookFunc(t *testing.T) {
	type Configuration struct {
		Listen       netip.AddrPort
		Destinations []netip.AddrPort
		Timeout      time.Duration
	}
	TestConfigurationDecode(t, ConfigurationDecodeCases{
		{
			Description: "addresses and durations",
			Initial:     func() any { return Configuration{} },
			Configuration: func() any {
				return gin.H{
					"listen":       "0.0.0.0:4739",
					"destinations": []string{"192.0.2.1:2055", "192.0.2.2:4739"},
					"timeout":      "2s",
				}
			},
			Expected: Configuration{
				Listen: netip.MustParseAddrPort("0.0.0.0:4739"),
				Destinations: []netip.AddrPort{
					netip.MustParseAddrPort("192.0.2.1:2055"),
					netip.MustParseAddrPort("192.0.2.2:4739"),
				},
				Timeout: 2 * time.Second,
			},
		}, {
			Description: "invalid address",
			Initial:     func() any { return Configuration{} },
			Configuration: func() any {
				return gin.H{"listen": "nowhere"}
			},
			Error: true,
		}, {
			Description: "unknown key",
			Initial:     func() any { return Configuration{} },
			Configuration: func() any {
				return gin.H{"unknown": "key"}
			},
			Error: true,
		},
	})
}

func TestProtectedDecodeHook(t *testing.T) {
	var configuration struct {
		A string
		B string
	}
	panicHook := func(from, _ reflect.Type, data any) (any, error) {
		if from.Kind() == reflect.String {
			panic(errors.New("noooo"))
		}
		return data, nil
	}
	decoder, err := mapstructure.NewDecoder(GetMapStructureDecoderConfig(&configuration, panicHook))
	if err != nil {
		t.Fatalf("NewDecoder() error:\n%+v", err)
	}
	err = decoder.Decode(gin.H{"A": "hello", "B": "bye"})
	if err == nil {
		t.Fatal("Decode() did not error")
	} else if !strings.Contains(err.Error(), "internal error while parsing: noooo") {
		t.Fatalf("Decode() error:\n%+v", err)
	}
}

func TestDefaultValuesUnmarshallerHook(t *testing.T) {
	type InnerConfiguration struct {
		TTL        uint8
		BufferSize int
		Name       string
	}
	type OuterConfiguration struct {
		Inner []InnerConfiguration
	}
	defaultInner := InnerConfiguration{TTL: 5, BufferSize: 65536}
	hook := DefaultValuesUnmarshallerHook(defaultInner)

	var got OuterConfiguration
	decoder, err := mapstructure.NewDecoder(GetMapStructureDecoderConfig(&got, hook))
	if err != nil {
		t.Fatalf("NewDecoder() error:\n%+v", err)
	}
	if err := decoder.Decode(gin.H{
		"inner": []gin.H{
			{"name": "first"},
			{"name": "second", "ttl": 64},
		},
	}); err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	expected := OuterConfiguration{
		Inner: []InnerConfiguration{
			{TTL: 5, BufferSize: 65536, Name: "first"},
			{TTL: 64, BufferSize: 65536, Name: "second"},
		},
	}
	if diff := Diff(got, expected); diff != "" {
		t.Fatalf("Decode() (-got, +want):\n%s", diff)
	}
}
