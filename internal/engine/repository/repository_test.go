package repository_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	mdt "ilview/internal/engine/metadata/metadatatest"
	"ilview/internal/engine/repository"
)

var silverlightToken = []byte{0x7c, 0xec, 0x85, 0xd7, 0xbe, 0xa7, 0x79, 0x8e}

func writeAssembly(t *testing.T, root, arch, runtime, name, folder string, data []byte) string {
	t.Helper()
	dir := filepath.Join(root, arch, runtime, name, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+".dll")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newServer(t *testing.T, compare repository.VersionCompare) (*repository.Server, string) {
	t.Helper()
	root := t.TempDir()
	srv, err := repository.NewServer(root, compare, nil)
	require.NoError(t, err)
	return srv, root
}

func lookup(name, version string) repository.Query {
	return repository.Query{Name: name, Version: version, Token: "null", Architecture: "I386", Runtime: "Net_4_0"}
}

func TestQueryFor(t *testing.T) {
	calling, err := metadata.Load(bytes.NewReader(mdt.New("App", "1.0.0.0").Bytes()))
	require.NoError(t, err)

	ref := &metadata.AssemblyName{Name: "Lib", Version: metadata.Version{Major: 1, Minor: 2}}
	q := repository.QueryFor(calling, ref)
	assert.Equal(t, repository.Query{
		Name:         "Lib",
		Version:      "1.2.0.0",
		Token:        "null",
		Architecture: "I386",
		Runtime:      "Net_4_0",
	}, q)

	vals := q.Values()
	assert.Equal(t, "false", vals.Get("specificversion"))
	assert.Equal(t, q, repository.ParseQuery(vals))

	sl := &metadata.AssemblyName{Name: "System.Windows", Version: metadata.Version{Major: 2, Minor: 0, Build: 5}, PublicKeyToken: silverlightToken}
	q = repository.QueryFor(calling, sl)
	assert.Equal(t, repository.RuntimeSilverlight, q.Runtime)
	assert.Equal(t, "7cec85d7bea7798e", q.Token)
}

func TestQueryForWithoutCaller(t *testing.T) {
	ref := &metadata.AssemblyName{Name: "Lib", Version: metadata.Version{Major: 1}}
	q := repository.QueryFor(nil, ref)
	assert.Equal(t, "I386", q.Architecture)
	assert.Equal(t, "Net_4_0", q.Runtime)
	assert.Equal(t, "1.0.0.0", q.Version)
}

func TestVersionCompare(t *testing.T) {
	assert.Positive(t, repository.CompareNumeric.Compare("10.0.0.0__null", "9.0.0.0__null"))
	assert.Negative(t, repository.CompareTextual.Compare("10.0.0.0__null", "9.0.0.0__null"))
	assert.Positive(t, repository.CompareNumeric.Compare("1.0.0.0__b", "1.0.0.0__a"))
	assert.Zero(t, repository.CompareNumeric.Compare("1.0__null", "1.0.0.0__null"))
	assert.Negative(t, repository.CompareNumeric.Compare("junk", "zzz"))

	c, err := repository.ParseVersionCompare(" Textual ")
	require.NoError(t, err)
	assert.Equal(t, repository.CompareTextual, c)
	_, err = repository.ParseVersionCompare("semver")
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	name := &metadata.AssemblyName{Name: "Lib", Version: metadata.Version{Major: 3, Minor: 1}}
	assert.Equal(t, "3.1.0.0__null", repository.Identity(name))
}

func TestServerLocate(t *testing.T) {
	for _, tc := range []struct {
		compare repository.VersionCompare
		want    string
	}{
		{repository.CompareTextual, "9.0.0.0__null"},
		{repository.CompareNumeric, "10.0.0.0__null"},
	} {
		t.Run(string(tc.compare), func(t *testing.T) {
			srv, root := newServer(t, tc.compare)
			exact := writeAssembly(t, root, "I386", "Net_4_0", "Lib", "1.0.0.0__null", []byte("one"))
			writeAssembly(t, root, "I386", "Net_4_0", "Lib", "9.0.0.0__null", []byte("nine"))
			writeAssembly(t, root, "I386", "Net_4_0", "Lib", "10.0.0.0__null", []byte("ten"))

			path, ok := srv.Locate(lookup("Lib", "1.0.0.0"))
			require.True(t, ok)
			assert.Equal(t, exact, path)

			path, ok = srv.Locate(lookup("Lib", "2.0.0.0"))
			require.True(t, ok)
			assert.Equal(t, tc.want, filepath.Base(filepath.Dir(path)))

			specific := lookup("Lib", "2.0.0.0")
			specific.SpecificVersion = true
			_, ok = srv.Locate(specific)
			assert.False(t, ok)

			_, ok = srv.Locate(lookup("Lib", "11.0.0.0"))
			if tc.compare == repository.CompareNumeric {
				assert.False(t, ok, "no folder is newer than 11.0.0.0")
			}

			other := lookup("Lib", "1.0.0.0")
			other.Runtime = "Net_2_0"
			_, ok = srv.Locate(other)
			assert.False(t, ok)
		})
	}
}

func TestClientAgainstServer(t *testing.T) {
	srv, root := newServer(t, repository.CompareTextual)
	writeAssembly(t, root, "I386", "Net_4_0", "Lib", "1.0.0.0__null", []byte("image bytes"))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	client := repository.NewClient(repository.ClientOptions{})
	defer client.Close()
	ctx := context.Background()

	ok, err := client.Verify(ctx, ts.URL, lookup("Lib", "1.0.0.0"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Verify(ctx, ts.URL+"/", lookup("Missing", "1.0.0.0"))
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := client.Fetch(ctx, ts.URL, lookup("Lib", "1.0.0.0"))
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), data)

	_, err = client.Fetch(ctx, ts.URL, lookup("Missing", "1.0.0.0"))
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = client.Verify(ctx, deadURL, lookup("Lib", "1.0.0.0"))
	assert.True(t, errors.IsCode(err, errors.CodeNetwork))

	address, found := client.FindAvailable(ctx, []string{deadURL, ts.URL}, lookup("Lib", "1.0.0.0"))
	assert.True(t, found)
	assert.Equal(t, ts.URL, address)

	_, found = client.FindAvailable(ctx, []string{deadURL}, lookup("Lib", "1.0.0.0"))
	assert.False(t, found)
}

func TestServerValidatesRequests(t *testing.T) {
	srv, _ := newServer(t, repository.CompareTextual)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	good := lookup("Lib", "1.0.0.0").Values()

	for name, mutate := range map[string]func(url.Values){
		"missing runtime":  func(v url.Values) { v.Del("runtime") },
		"bad architecture": func(v url.Values) { v.Set("architecture", "Z80") },
		"bad version":      func(v url.Values) { v.Set("version", "one") },
		"bad token":        func(v url.Values) { v.Set("token", "xyz") },
		"path in name":     func(v url.Values) { v.Set("name", "../etc") },
		"bad flag":         func(v url.Values) { v.Set("specificversion", "maybe") },
	} {
		t.Run(name, func(t *testing.T) {
			v := url.Values{}
			for k, vals := range good {
				v[k] = append([]string(nil), vals...)
			}
			mutate(v)
			resp, err := http.Get(ts.URL + "/verify?" + v.Encode())
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Get(ts.URL + "/verify?" + good.Encode())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "false", string(body))
}

func TestNewServerRejectsMissingRoot(t *testing.T) {
	_, err := repository.NewServer(filepath.Join(t.TempDir(), "nope"), "", nil)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestLoadAPI(t *testing.T) {
	doc, err := repository.LoadAPI()
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/verify"))
	assert.NotNil(t, doc.Paths.Find("/assembly"))
}
