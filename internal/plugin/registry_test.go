package plugin

import (
	"context"
	"testing"
)

type fakeValidate struct {
	platform string
	ok       bool
}

func (f *fakeValidate) Descriptor() Descriptor {
	return Descriptor{Kind: KindValidate, Platform: f.platform, DisplayName: f.platform}
}

func (f *fakeValidate) ValidateCookie(ctx context.Context, cookieFilePath string) (bool, error) {
	return f.ok, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(KindValidate, "wechat", &fakeValidate{platform: "wechat", ok: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	p, ok := r.GetValidate("wechat")
	if !ok {
		t.Fatal("expected wechat validate plugin to be found")
	}
	valid, err := p.ValidateCookie(context.Background(), "/tmp/whatever")
	if err != nil || !valid {
		t.Fatalf("ValidateCookie = (%v, %v), want (true, nil)", valid, err)
	}

	if !r.Supports(KindValidate, "wechat") {
		t.Error("Supports(VALIDATE, wechat) = false, want true")
	}
	if r.Supports(KindValidate, "douyin") {
		t.Error("Supports(VALIDATE, douyin) = true, want false")
	}
	if _, ok := r.Get(KindUpload, "wechat"); ok {
		t.Error("Get(UPLOAD, wechat) found a plugin, want none")
	}
}

func TestRegistry_DuplicateKeyIsFatal(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(KindValidate, "wechat", &fakeValidate{platform: "wechat"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(KindValidate, "wechat", &fakeValidate{platform: "wechat"}); err == nil {
		t.Fatal("expected duplicate (kind, platform) registration to error")
	}
}

func TestRegistry_Init_SkipsFailuresWithoutAborting(t *testing.T) {
	r := NewRegistry()

	inits := []Initializer{
		{Kind: KindValidate, Platform: "broken", Build: func() (Plugin, error) {
			return nil, errPluginBuild
		}},
		{Kind: KindValidate, Platform: "wechat", Build: func() (Plugin, error) {
			return &fakeValidate{platform: "wechat", ok: true}, nil
		}},
	}

	if err := r.Init(inits); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if r.Supports(KindValidate, "broken") {
		t.Error("broken plugin should not have been registered")
	}
	if !r.Supports(KindValidate, "wechat") {
		t.Error("wechat plugin should have been registered despite the earlier failure")
	}
}

func TestRegistry_ListPlatforms(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(KindValidate, "wechat", &fakeValidate{platform: "wechat"})
	_ = r.Register(KindValidate, "douyin", &fakeValidate{platform: "douyin"})

	platforms := r.ListPlatforms(KindValidate)
	if len(platforms) != 2 {
		t.Fatalf("ListPlatforms(VALIDATE) = %v, want 2 entries", platforms)
	}
}

var errPluginBuild = &buildError{"simulated plugin build failure"}

type buildError struct{ msg string }

func (e *buildError) Error() string { return e.msg }
