package kv

import "testing"

func TestHashTag(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"{fixed:app1}:5", "fixed:app1"},
		{"{sliding:app1}:5", "sliding:app1"},
		{"no-braces-key", "no-braces-key"},
		{"{}empty-braces", "{}empty-braces"},
		{"trailing{unterminated", "trailing{unterminated"},
	}

	for _, tc := range cases {
		if got := hashTag(tc.key); got != tc.want {
			t.Errorf("hashTag(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestShardPicker_SameHashTagAlwaysPicksSameShard(t *testing.T) {
	picker := newShardPicker([]string{"redis-a:6379", "redis-b:6379", "redis-c:6379"})

	key1 := "{bucket:app1}"
	key2 := "{bucket:app1}:overflow"

	if got1, got2 := picker.pick(key1), picker.pick(key2); got1 != got2 {
		t.Errorf("keys sharing a hash tag picked different shards: %q vs %q", got1, got2)
	}
}

func TestShardPicker_DistributesAcrossShards(t *testing.T) {
	picker := newShardPicker([]string{"redis-a:6379", "redis-b:6379", "redis-c:6379"})

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key := "{app" + string(rune('a'+i%26)) + "}:" + string(rune(i))
		seen[picker.pick(key)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected keys to spread across more than one shard, got %v", seen)
	}
}
