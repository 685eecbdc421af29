package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"tapt/pkg/contract"
)

// parquetRow: 导出行格式（列名与内存表一致）。
type parquetRow struct {
	Text        string  `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
	InputIDs    []int32 `parquet:"name=input_ids, type=INT32, repetitiontype=REPEATED"`
	SpecialMask []int32 `parquet:"name=special_tokens_mask, type=INT32, repetitiontype=REPEATED"`
}

// ExportPath 返回划分对应的导出文件路径。
func ExportPath(dir string, s contract.Split) string {
	return filepath.Join(dir, string(s)+".parquet")
}

// Export 将每个划分写为 <dir>/<split>.parquet。
func Export(dir string, d TokenizedDict) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, s := range d.Splits() {
		t, _ := d.Split(s)
		if err := WriteParquet(ExportPath(dir, s), t); err != nil {
			return fmt.Errorf("export %s: %w", s, err)
		}
	}
	return nil
}

// WriteParquet 写出单个分词表格。
func WriteParquet(path string, t *TokenizedTable) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := 0; i < t.Len(); i++ {
		row := parquetRow{
			Text:        t.Text[i],
			InputIDs:    toInt32(t.InputIDs[i]),
			SpecialMask: toInt32(t.SpecialMask[i]),
		}
		if err := pw.Write(row); err != nil {
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

// ReadParquet 读回 WriteParquet 写出的表格。
func ReadParquet(path string, s contract.Split) (*TokenizedTable, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()
	n := int(pr.GetNumRows())
	rows := make([]parquetRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, err
		}
	}
	t := &TokenizedTable{
		Split:       s,
		Text:        make([]string, n),
		InputIDs:    make([][]int, n),
		SpecialMask: make([][]int, n),
	}
	for i, r := range rows {
		t.Text[i] = r.Text
		t.InputIDs[i] = fromInt32(r.InputIDs)
		t.SpecialMask[i] = fromInt32(r.SpecialMask)
	}
	return t, nil
}

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
