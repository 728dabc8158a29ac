package common

import (
	"encoding/json"
	"testing"
)

func checkKeyValue(t *testing.T, format map[string]string, key, value string) {
	if v, ok := format[key]; !ok {
		t.Errorf("key %s not found", key)
	} else if v != value {
		t.Errorf("expected %s for key %s, got %s", value, key, v)
	}
}

func TestInfo(t *testing.T) {
	if _, err := Info("LC08_L2SP_045032_20200815_20200920_02"); err == nil {
		t.Errorf("too short file name")
	}
	if _, err := Info("S2B_MSIL1C_20190108T104429_N0207_R008_T32UNF_20190108T124859.SAFE"); err == nil {
		t.Errorf("not a landsat product")
	}
	if format, err := Info("LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF"); err != nil {
		t.Error(err)
	} else {
		checkKeyValue(t, format, "SCENE", "LC08_L2SP_045032_20200815_20200920_02_T1")
		checkKeyValue(t, format, "MISSION_ID", "LC08")
		checkKeyValue(t, format, "LEVEL", "level-2")
		checkKeyValue(t, format, "CORRECTION", "L2SP")
		checkKeyValue(t, format, "PATH", "045")
		checkKeyValue(t, format, "ROW", "032")
		checkKeyValue(t, format, "DATE", "20200815")
		checkKeyValue(t, format, "YEAR", "2020")
		checkKeyValue(t, format, "MONTH", "08")
		checkKeyValue(t, format, "DAY", "15")
		checkKeyValue(t, format, "COLLECTION", "oli-tirs")
		checkKeyValue(t, format, "NUMBER", "02")
		checkKeyValue(t, format, "CATEGORY", "T1")
	}
	if format, err := Info("LC09_L1GT_166003_20250603_20250603_02_T2"); err != nil {
		t.Error(err)
	} else {
		checkKeyValue(t, format, "LEVEL", "level-1")
		checkKeyValue(t, format, "PATH", "166")
		checkKeyValue(t, format, "ROW", "003")
	}
}

func TestPathRow(t *testing.T) {
	if pr := PathRow("LC80450322020228LGN00"); pr != "045032" {
		t.Errorf("expected 045032 found %s", pr)
	}
	if pr := PathRow("LC8045"); pr != "LC8045" {
		t.Errorf("expected LC8045 found %s", pr)
	}
}

func TestBandFileStem(t *testing.T) {
	stem, ok := BandFileStem("LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF", "B5")
	if !ok || stem != "LC08_L2SP_045032_20200815_20200920_02_T1_SR_" {
		t.Errorf("expected LC08_L2SP_045032_20200815_20200920_02_T1_SR_ found %s", stem)
	}
	if name := BandFileName(stem, "B7"); name != "LC08_L2SP_045032_20200815_20200920_02_T1_SR_B7.TIF" {
		t.Errorf("expected LC08_L2SP_045032_20200815_20200920_02_T1_SR_B7.TIF found %s", name)
	}
	if name := BandFileName(stem, NBRBand); name != "LC08_L2SP_045032_20200815_20200920_02_T1_SR_NBR.TIF" {
		t.Errorf("expected LC08_L2SP_045032_20200815_20200920_02_T1_SR_NBR.TIF found %s", name)
	}
	if _, ok := BandFileStem("LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF", "B7"); ok {
		t.Errorf("expected no stem for B7")
	}
	if _, ok := BandFileStem("README.txt", "B5"); ok {
		t.Errorf("expected no stem for README.txt")
	}
}

func TestFormatBrackets(t *testing.T) {
	info, _ := Info("LC08_L2SP_045032_20200815_20200920_02_T1")
	s := FormatBrackets("{YEAR}/{PATH}/{ROW}/{FILE}", info, map[string]string{"FILE": "a_B5.TIF"})
	if s != "2020/045/032/a_B5.TIF" {
		t.Errorf("expected 2020/045/032/a_B5.TIF found %s", s)
	}
}

func TestStatus(t *testing.T) {
	b, err := json.Marshal(StatusDONE)
	if err != nil || string(b) != `"DONE"` {
		t.Errorf(`expected "DONE" found %s (%v)`, b, err)
	}
	var s Status
	if err := json.Unmarshal([]byte(`"retry"`), &s); err != nil || s != StatusRETRY {
		t.Errorf("expected RETRY found %s (%v)", s, err)
	}
	if err := s.Scan([]byte("FAILED")); err != nil || s != StatusFAILED {
		t.Errorf("expected FAILED found %s (%v)", s, err)
	}
	if _, err := StatusString("UNKNOWN"); err == nil {
		t.Errorf("expected an error")
	}
	if v, err := StatusPENDING.Value(); err != nil || v != "PENDING" {
		t.Errorf("expected PENDING found %v (%v)", v, err)
	}
	if Status(7).IsAStatus() || Status(7).String() != "Status(7)" {
		t.Errorf("expected an invalid status found %s", Status(7))
	}
	if names := StatusStrings(); len(names) != 5 || names[0] != "NEW" || names[4] != "RETRY" {
		t.Errorf("expected [NEW PENDING DONE FAILED RETRY] found %v", names)
	}
}

func TestDownloadReport(t *testing.T) {
	report := DownloadReport{Results: []DownloadResult{
		{Band: "B5", DisplayID: "a_B5.TIF", Status: StatusDONE},
		{Band: "B5", DisplayID: "b_B5.TIF", Status: StatusFAILED},
		{Band: "B7", DisplayID: "a_B7.TIF", Status: StatusRETRY},
	}}
	filenames := report.Filenames()
	if len(filenames["B5"]) != 1 || filenames["B5"][0] != "a_B5.TIF" {
		t.Errorf("expected [a_B5.TIF] found %v", filenames["B5"])
	}
	if b7, ok := filenames["B7"]; !ok || len(b7) != 0 {
		t.Errorf("expected empty B7 found %v", b7)
	}
	if len(report.Failed()) != 2 {
		t.Errorf("expected 2 failures found %d", len(report.Failed()))
	}
}
