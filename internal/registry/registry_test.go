package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiatlas/internal/config"
	"apiatlas/pkg/domain"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	return New(cfg, nil)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    domain.AppName
		wantErr bool
	}{
		{"小写原样", "shop", "shop", false},
		{"大写转小写", "Shop", "shop", false},
		{"首尾空白去除", "  my-app  ", "my-app", false},
		{"数字连字符合法", "app-2", "app-2", false},
		{"内部空格拒绝", "my app", "", true},
		{"下划线拒绝", "my_app", "", true},
		{"空名拒绝", "", "", true},
		{"中文拒绝", "商店", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeName(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	r := testRegistry(t)

	profile, err := r.Create("shop", "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.example.com"}, profile.Domains)
	assert.NotEmpty(t, profile.Created)

	got, err := r.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, profile.Name, got.Name)

	// 重复注册被拒绝
	_, err = r.Create("shop", "other.example.com")
	assert.ErrorIs(t, err, ErrAppExists)

	_, err = r.Get("absent")
	assert.ErrorIs(t, err, ErrUnknownApp)
}

func TestAddDomainGrowOnly(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Create("shop", "shop.example.com")
	require.NoError(t, err)

	require.NoError(t, r.AddDomain("shop", "cdn.example.com"))
	// 重复追加幂等
	require.NoError(t, r.AddDomain("shop", "cdn.example.com"))

	profile, err := r.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.example.com", "cdn.example.com"}, profile.Domains)

	assert.ErrorIs(t, r.AddDomain("absent", "x.example.com"), ErrUnknownApp)
}

func TestListAndDomainMap(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Create("zeta", "zeta.example.com")
	require.NoError(t, err)
	_, err = r.Create("alpha", "alpha.example.com")
	require.NoError(t, err)
	require.NoError(t, r.AddDomain("alpha", "api.alpha.example.com"))

	assert.Equal(t, []domain.AppName{"alpha", "zeta"}, r.List())

	m := r.DomainMap()
	assert.Equal(t, domain.AppName("alpha"), m["alpha.example.com"])
	assert.Equal(t, domain.AppName("alpha"), m["api.alpha.example.com"])
	assert.Equal(t, domain.AppName("zeta"), m["zeta.example.com"])
}

// 无档案的裸目录（如未归属收容桶）不出现在应用列表中
func TestListSkipsDirsWithoutProfile(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Create("shop", "shop.example.com")
	require.NoError(t, err)
	require.NoError(t, r.cfg.EnsureAppDirs(domain.Unassigned))

	assert.Equal(t, []domain.AppName{"shop"}, r.List())
}

func TestUpdateLastSession(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Create("shop", "shop.example.com")
	require.NoError(t, err)

	require.NoError(t, r.UpdateLastSession("shop", "2026-08-29T10-00"))
	profile, err := r.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29T10-00", profile.LastSession)
}
