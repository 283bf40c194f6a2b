package messages

import (
	"testing"
	"time"

	"github.com/ew384/automaton-core/internal/plugin"
)

func sampleSync() plugin.SyncResult {
	now := time.Now()
	return plugin.SyncResult{
		Success: true,
		Threads: []plugin.MessageThread{
			{ThreadID: "t1", AccountID: "acct1", PeerName: "Alice", UnreadCount: 2},
		},
		NewMessages: []plugin.Message{
			{ThreadID: "t1", MessageID: "m1", FromSelf: false, Content: "hello there", SentAt: now},
			{ThreadID: "t1", MessageID: "m2", FromSelf: true, Content: "hi back", SentAt: now.Add(time.Second)},
		},
	}
}

func TestIngestSync_PopulatesThreadsAndMessages(t *testing.T) {
	s := NewStore()
	s.IngestSync("wechat", "acct1", sampleSync())

	threads := s.Threads("wechat", "acct1", 0, 0)
	if len(threads) != 1 || threads[0].ContactName != "Alice" {
		t.Fatalf("Threads = %+v", threads)
	}

	msgs := s.Messages("t1", 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("Messages = %+v, want 2", msgs)
	}
	if msgs[0].Direction != "in" || msgs[1].Direction != "out" {
		t.Errorf("unexpected directions: %+v", msgs)
	}
}

func TestMarkRead_ReducesUnreadCount(t *testing.T) {
	s := NewStore()
	s.IngestSync("wechat", "acct1", sampleSync())

	n := s.MarkRead("t1", nil)
	if n != 2 {
		t.Fatalf("MarkRead = %d, want 2", n)
	}
	if got := s.UnreadCount("wechat", "acct1"); got != 0 {
		t.Errorf("UnreadCount after mark-read = %d, want 0", got)
	}
}

func TestSearch_FiltersByKeywordAndScope(t *testing.T) {
	s := NewStore()
	s.IngestSync("wechat", "acct1", sampleSync())
	s.IngestSync("douyin", "acct2", plugin.SyncResult{
		Threads:     []plugin.MessageThread{{ThreadID: "t2", AccountID: "acct2"}},
		NewMessages: []plugin.Message{{ThreadID: "t2", MessageID: "m3", Content: "hello from douyin", SentAt: time.Now()}},
	})

	got := s.Search("wechat", "", "hello", 10)
	if len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("Search scoped to wechat = %+v", got)
	}

	all := s.Search("", "", "hello", 10)
	if len(all) != 2 {
		t.Fatalf("Search unscoped = %d results, want 2", len(all))
	}
}

func TestStatistics_AggregatesAcrossAccounts(t *testing.T) {
	s := NewStore()
	s.IngestSync("wechat", "acct1", sampleSync())

	stats := s.Statistics("wechat")
	if stats.ThreadCount != 1 || stats.MessageCount != 2 || stats.UnreadCount != 2 {
		t.Errorf("Statistics = %+v", stats)
	}
}
