package orthanc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/dicom"
	"dicom-router/internal/models"
	"dicom-router/internal/routing/predicate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.URL = server.URL
	for _, m := range mutate {
		m(&config)
	}

	client, err := NewClient(config, logging.GetGlobalLogger())
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{URL: "localhost:8042"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewClient(Config{URL: "http://orthanc:8042", DestinationKind: "printers"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	client, err := NewClient(Config{URL: "http://orthanc:8042/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DestinationModalities, client.DestinationKind())
}

func TestClient_FetchStudy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/abc-123", r.URL.Path)
		assert.Equal(t, "00080061,00081030", r.URL.Query().Get("requestedTags"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "orthanc", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"ID": "abc-123",
			"MainDicomTags": {"StudyDate": "20050101", "AccessionNumber": ""},
			"PatientMainDicomTags": {"PatientID": "P1"},
			"RequestedTags": {
				"ModalitiesInStudy": "CT\\MR",
				"NumberOfStudyRelatedSeries": 3,
				"Sequence": [{"nested": true}],
				"OtherList": ["A", "B"],
				"PartialList": ["A", null],
				"Missing": null
			}
		}`)
	}, func(c *Config) {
		c.Username = "orthanc"
		c.Password = "secret"
		c.RequestedTags = []string{"00080061", "00081030"}
	})

	study, err := client.FetchStudy(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", study.ID)
	assert.Equal(t, map[string]string{"StudyDate": "20050101", "AccessionNumber": ""}, study.MainDicomTags)
	assert.Equal(t, map[string]string{"PatientID": "P1"}, study.PatientMainDicomTags)
	assert.Equal(t, map[string]string{
		"ModalitiesInStudy":          "CT\\MR",
		"NumberOfStudyRelatedSeries": "3",
		"OtherList":                  "A\\B",
	}, study.RequestedTags)
}

func TestClient_FetchStudy_NullTagIsAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"ID": "abc-123",
			"MainDicomTags": {"StudyDate": "20240101"},
			"PatientMainDicomTags": {},
			"RequestedTags": {"BodyPartExamined": null}
		}`)
	})

	study, err := client.FetchStudy(context.Background(), "abc-123")
	require.NoError(t, err)

	attrs := dicom.Normalize(dicom.MergeTagGroups(
		study.MainDicomTags,
		study.PatientMainDicomTags,
		study.RequestedTags,
	), logging.GetGlobalLogger())
	_, present := attrs["BodyPartExamined"]
	assert.False(t, present)

	for _, text := range []string{"BodyPartExamined != 'CHEST'", "BodyPartExamined == ''"} {
		expr, err := predicate.Compile(text)
		require.NoError(t, err)
		assert.False(t, expr.Eval(attrs), text)
	}
}

func TestClient_FetchStudy_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"Message": "Unknown resource"}`, http.StatusNotFound)
	})

	_, err := client.FetchStudy(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestClient_Forward(t *testing.T) {
	var received models.StoreRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/peers/remote%20site/store", r.URL.EscapedPath())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		io.WriteString(w, `{"Description": "REST API", "InstancesCount": 12}`)
	}, func(c *Config) {
		c.DestinationKind = DestinationPeers
	})

	request := models.StoreRequest{
		Resources:         []string{"abc-123"},
		Compress:          true,
		Permissive:        true,
		MoveOriginatorAet: "ROUTER",
		MoveOriginatorID:  7,
	}
	require.NoError(t, client.Forward(context.Background(), "remote site", request))
	assert.Equal(t, request, received)
}

func TestClient_Forward_NotBoundByMetadataTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/studies/slow" {
			<-r.Context().Done()
			return
		}
		time.Sleep(300 * time.Millisecond)
		io.WriteString(w, `{}`)
	}, func(c *Config) {
		c.Timeout = 100 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Forward(ctx, "pacs", models.StoreRequest{Resources: []string{"x"}}))

	_, err := client.FetchStudy(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = client.Forward(ctx, "pacs", models.StoreRequest{Resources: []string{"x"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
}

func TestClient_Forward_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "DICOM association rejected", http.StatusInternalServerError)
	})

	err := client.Forward(context.Background(), "pacs", models.StoreRequest{Resources: []string{"x"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestClient_ListDestinations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/modalities/", r.URL.Path)
		io.WriteString(w, `["pacs", "research"]`)
	})

	names, err := client.ListDestinations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pacs", "research"}, names)
}

func TestClient_Changes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/changes", r.URL.Path)
		if _, ok := r.URL.Query()["last"]; ok {
			io.WriteString(w, `{"Changes": [], "Done": true, "Last": 42}`)
			return
		}
		assert.Equal(t, "10", r.URL.Query().Get("since"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		io.WriteString(w, `{"Changes": [{"ChangeType": "StableStudy", "ID": "s1", "ResourceType": "Study", "Seq": 11}], "Done": true, "Last": 11}`)
	})

	page, err := client.Changes(context.Background(), 10, 100)
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	assert.Equal(t, models.ChangeTypeStableStudy, page.Changes[0].ChangeType)
	assert.Equal(t, int64(11), page.Last)
	assert.True(t, page.Done)

	last, err := client.LastChange(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), last)
}

func TestClient_FindAndDelete(t *testing.T) {
	var deleted models.BulkDeleteRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tools/find":
			var find models.FindRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&find))
			assert.Equal(t, "Study", find.Level)
			assert.Equal(t, "19000101-20200101", find.Query["StudyDate"])
			io.WriteString(w, `["s1", "s2"]`)
		case "/tools/bulk-delete":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&deleted))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	studies, err := client.FindStudiesBefore(context.Background(), "20200101")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, studies)

	require.NoError(t, client.BulkDelete(context.Background(), studies))
	assert.Equal(t, []string{"s1", "s2"}, deleted.Resources)

	assert.NoError(t, client.BulkDelete(context.Background(), nil))
}

func TestClient_Ping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/system", r.URL.Path)
		io.WriteString(w, `{"Name": "ORTHANC", "Version": "1.12.1"}`)
	})
	assert.NoError(t, client.Ping(context.Background()))
}
