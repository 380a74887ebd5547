package schema

import "github.com/rsclarke/flowtriage/internal/flow"

// Field describes one canonical flow field: the header the extractor
// writes, the canonical name used in memory and the history column.
type Field struct {
	Source string
	Name   string
	Column string
	Kind   flow.Kind
}

// Canonical fields in storage order. The label sits between the idle
// statistics and the duplicated forward header length, as the history
// table expects.
var fields = []Field{
	{Source: "Dst Port", Name: "Destination Port", Column: "destination_port", Kind: flow.Numeric},
	{Source: "Flow Duration", Name: "Flow Duration", Column: "flow_duration", Kind: flow.Numeric},
	{Source: "Tot Fwd Pkts", Name: "Total Fwd Packets", Column: "total_fwd_packets", Kind: flow.Numeric},
	{Source: "Tot Bwd Pkts", Name: "Total Backward Packets", Column: "total_backward_packets", Kind: flow.Numeric},
	{Source: "TotLen Fwd Pkts", Name: "Total Length of Fwd Packets", Column: "total_length_fwd_packets", Kind: flow.Numeric},
	{Source: "TotLen Bwd Pkts", Name: "Total Length of Bwd Packets", Column: "total_length_bwd_packets", Kind: flow.Numeric},
	{Source: "Fwd Pkt Len Max", Name: "Fwd Packet Length Max", Column: "fwd_packet_length_max", Kind: flow.Numeric},
	{Source: "Fwd Pkt Len Min", Name: "Fwd Packet Length Min", Column: "fwd_packet_length_min", Kind: flow.Numeric},
	{Source: "Fwd Pkt Len Mean", Name: "Fwd Packet Length Mean", Column: "fwd_packet_length_mean", Kind: flow.Numeric},
	{Source: "Fwd Pkt Len Std", Name: "Fwd Packet Length Std", Column: "fwd_packet_length_std", Kind: flow.Numeric},
	{Source: "Bwd Pkt Len Max", Name: "Bwd Packet Length Max", Column: "bwd_packet_length_max", Kind: flow.Numeric},
	{Source: "Bwd Pkt Len Min", Name: "Bwd Packet Length Min", Column: "bwd_packet_length_min", Kind: flow.Numeric},
	{Source: "Bwd Pkt Len Mean", Name: "Bwd Packet Length Mean", Column: "bwd_packet_length_mean", Kind: flow.Numeric},
	{Source: "Bwd Pkt Len Std", Name: "Bwd Packet Length Std", Column: "bwd_packet_length_std", Kind: flow.Numeric},
	{Source: "Flow Byts/s", Name: "Flow Bytes/s", Column: "flow_bytes_s", Kind: flow.Numeric},
	{Source: "Flow Pkts/s", Name: "Flow Packets/s", Column: "flow_packets_s", Kind: flow.Numeric},
	{Source: "Flow IAT Mean", Name: "Flow IAT Mean", Column: "flow_iat_mean", Kind: flow.Numeric},
	{Source: "Flow IAT Std", Name: "Flow IAT Std", Column: "flow_iat_std", Kind: flow.Numeric},
	{Source: "Flow IAT Max", Name: "Flow IAT Max", Column: "flow_iat_max", Kind: flow.Numeric},
	{Source: "Flow IAT Min", Name: "Flow IAT Min", Column: "flow_iat_min", Kind: flow.Numeric},
	{Source: "Fwd IAT Tot", Name: "Fwd IAT Total", Column: "fwd_iat_total", Kind: flow.Numeric},
	{Source: "Fwd IAT Mean", Name: "Fwd IAT Mean", Column: "fwd_iat_mean", Kind: flow.Numeric},
	{Source: "Fwd IAT Std", Name: "Fwd IAT Std", Column: "fwd_iat_std", Kind: flow.Numeric},
	{Source: "Fwd IAT Max", Name: "Fwd IAT Max", Column: "fwd_iat_max", Kind: flow.Numeric},
	{Source: "Fwd IAT Min", Name: "Fwd IAT Min", Column: "fwd_iat_min", Kind: flow.Numeric},
	{Source: "Bwd IAT Tot", Name: "Bwd IAT Total", Column: "bwd_iat_total", Kind: flow.Numeric},
	{Source: "Bwd IAT Mean", Name: "Bwd IAT Mean", Column: "bwd_iat_mean", Kind: flow.Numeric},
	{Source: "Bwd IAT Std", Name: "Bwd IAT Std", Column: "bwd_iat_std", Kind: flow.Numeric},
	{Source: "Bwd IAT Max", Name: "Bwd IAT Max", Column: "bwd_iat_max", Kind: flow.Numeric},
	{Source: "Bwd IAT Min", Name: "Bwd IAT Min", Column: "bwd_iat_min", Kind: flow.Numeric},
	{Source: "Fwd PSH Flags", Name: "Fwd PSH Flags", Column: "fwd_psh_flags", Kind: flow.Numeric},
	{Source: "Bwd PSH Flags", Name: "Bwd PSH Flags", Column: "bwd_psh_flags", Kind: flow.Numeric},
	{Source: "Fwd URG Flags", Name: "Fwd URG Flags", Column: "fwd_urg_flags", Kind: flow.Numeric},
	{Source: "Bwd URG Flags", Name: "Bwd URG Flags", Column: "bwd_urg_flags", Kind: flow.Numeric},
	{Source: "Fwd Header Len", Name: "Fwd Header Length", Column: "fwd_header_length", Kind: flow.Numeric},
	{Source: "Bwd Header Len", Name: "Bwd Header Length", Column: "bwd_header_length", Kind: flow.Numeric},
	{Source: "Fwd Pkts/s", Name: "Fwd Packets/s", Column: "fwd_packets_s", Kind: flow.Numeric},
	{Source: "Bwd Pkts/s", Name: "Bwd Packets/s", Column: "bwd_packets_s", Kind: flow.Numeric},
	{Source: "Pkt Len Min", Name: "Min Packet Length", Column: "min_packet_length", Kind: flow.Numeric},
	{Source: "Pkt Len Max", Name: "Max Packet Length", Column: "max_packet_length", Kind: flow.Numeric},
	{Source: "Pkt Len Mean", Name: "Packet Length Mean", Column: "packet_length_mean", Kind: flow.Numeric},
	{Source: "Pkt Len Std", Name: "Packet Length Std", Column: "packet_length_std", Kind: flow.Numeric},
	{Source: "Pkt Len Var", Name: "Packet Length Variance", Column: "packet_length_variance", Kind: flow.Numeric},
	{Source: "FIN Flag Cnt", Name: "FIN Flag Count", Column: "fin_flag_count", Kind: flow.Numeric},
	{Source: "SYN Flag Cnt", Name: "SYN Flag Count", Column: "syn_flag_count", Kind: flow.Numeric},
	{Source: "RST Flag Cnt", Name: "RST Flag Count", Column: "rst_flag_count", Kind: flow.Numeric},
	{Source: "PSH Flag Cnt", Name: "PSH Flag Count", Column: "psh_flag_count", Kind: flow.Numeric},
	{Source: "ACK Flag Cnt", Name: "ACK Flag Count", Column: "ack_flag_count", Kind: flow.Numeric},
	{Source: "URG Flag Cnt", Name: "URG Flag Count", Column: "urg_flag_count", Kind: flow.Numeric},
	{Source: "CWE Flag Count", Name: "CWE Flag Count", Column: "cwe_flag_count", Kind: flow.Numeric},
	{Source: "ECE Flag Cnt", Name: "ECE Flag Count", Column: "ece_flag_count", Kind: flow.Numeric},
	{Source: "Down/Up Ratio", Name: "Down/Up Ratio", Column: "down_up_ratio", Kind: flow.Numeric},
	{Source: "Pkt Size Avg", Name: "Average Packet Size", Column: "average_packet_size", Kind: flow.Numeric},
	{Source: "Fwd Seg Size Avg", Name: "Avg Fwd Segment Size", Column: "avg_fwd_segment_size", Kind: flow.Numeric},
	{Source: "Bwd Seg Size Avg", Name: "Avg Bwd Segment Size", Column: "avg_bwd_segment_size", Kind: flow.Numeric},
	{Source: "Fwd Byts/b Avg", Name: "Fwd Avg Bytes/Bulk", Column: "fwd_avg_bytes_bulk", Kind: flow.Numeric},
	{Source: "Fwd Pkts/b Avg", Name: "Fwd Avg Packets/Bulk", Column: "fwd_avg_packets_bulk", Kind: flow.Numeric},
	{Source: "Fwd Blk Rate Avg", Name: "Fwd Avg Bulk Rate", Column: "fwd_avg_bulk_rate", Kind: flow.Numeric},
	{Source: "Bwd Byts/b Avg", Name: "Bwd Avg Bytes/Bulk", Column: "bwd_avg_bytes_bulk", Kind: flow.Numeric},
	{Source: "Bwd Pkts/b Avg", Name: "Bwd Avg Packets/Bulk", Column: "bwd_avg_packets_bulk", Kind: flow.Numeric},
	{Source: "Bwd Blk Rate Avg", Name: "Bwd Avg Bulk Rate", Column: "bwd_avg_bulk_rate", Kind: flow.Numeric},
	{Source: "Subflow Fwd Pkts", Name: "Subflow Fwd Packets", Column: "subflow_fwd_packets", Kind: flow.Numeric},
	{Source: "Subflow Fwd Byts", Name: "Subflow Fwd Bytes", Column: "subflow_fwd_bytes", Kind: flow.Numeric},
	{Source: "Subflow Bwd Pkts", Name: "Subflow Bwd Packets", Column: "subflow_bwd_packets", Kind: flow.Numeric},
	{Source: "Subflow Bwd Byts", Name: "Subflow Bwd Bytes", Column: "subflow_bwd_bytes", Kind: flow.Numeric},
	{Source: "Init Fwd Win Byts", Name: "Init_Win_bytes_forward", Column: "init_win_bytes_forward", Kind: flow.Numeric},
	{Source: "Init Bwd Win Byts", Name: "Init_Win_bytes_backward", Column: "init_win_bytes_backward", Kind: flow.Numeric},
	{Source: "Fwd Act Data Pkts", Name: "act_data_pkt_fwd", Column: "act_data_pkt_fwd", Kind: flow.Numeric},
	{Source: "Fwd Seg Size Min", Name: "min_seg_size_forward", Column: "min_seg_size_forward", Kind: flow.Numeric},
	{Source: "Active Mean", Name: "Active Mean", Column: "active_mean", Kind: flow.Numeric},
	{Source: "Active Std", Name: "Active Std", Column: "active_std", Kind: flow.Numeric},
	{Source: "Active Max", Name: "Active Max", Column: "active_max", Kind: flow.Numeric},
	{Source: "Active Min", Name: "Active Min", Column: "active_min", Kind: flow.Numeric},
	{Source: "Idle Mean", Name: "Idle Mean", Column: "idle_mean", Kind: flow.Numeric},
	{Source: "Idle Std", Name: "Idle Std", Column: "idle_std", Kind: flow.Numeric},
	{Source: "Idle Max", Name: "Idle Max", Column: "idle_max", Kind: flow.Numeric},
	{Source: "Idle Min", Name: "Idle Min", Column: "idle_min", Kind: flow.Numeric},
	{Source: "Label", Name: "Label", Column: "label_original", Kind: flow.Text},
	{Source: "Fwd Header Len.1", Name: "Fwd Header Length.1", Column: "fwd_header_length_1", Kind: flow.Numeric},
}
