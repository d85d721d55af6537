package valkey

import "testing"

func TestOperation(t *testing.T) {
	cases := map[string]string{
		"listings:id:42":             "listings:id",
		"listings:nearby:1:2:3:4":    "listings:nearby",
		"map:render:v3:1:2:3:4:z12:": "map:render",
		"plain":                      "plain",
	}
	for in, want := range cases {
		if got := operation(in); got != want {
			t.Errorf("operation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Cache{prefix: "etxea"}
	if got := c.key("listings:id:1"); got != "etxea:listings:id:1" {
		t.Errorf("unexpected key %s", got)
	}
	if got := (&Cache{}).key("x"); got != "x" {
		t.Errorf("unexpected key %s", got)
	}
}
